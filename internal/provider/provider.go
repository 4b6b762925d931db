// Package provider names the AI completion services the game can talk to.
package provider

import (
	"fmt"
	"strings"
)

// Provider identifies an upstream AI text-completion service.
type Provider string

const (
	DeepSeek    Provider = "deepseek"
	Gemini      Provider = "gemini"
	SiliconFlow Provider = "siliconflow"

	// Unknown is the zero value; it disables every provider-specific branch.
	Unknown Provider = ""
)

// All lists the supported providers in display order.
func All() []Provider {
	return []Provider{DeepSeek, Gemini, SiliconFlow}
}

// Parse converts a user supplied name (case-insensitive, "silicon-flow" and
// "silicon_flow" accepted) into a Provider.
func Parse(name string) (Provider, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "", "_", "", " ", "").Replace(n)
	switch n {
	case "deepseek":
		return DeepSeek, nil
	case "gemini", "google":
		return Gemini, nil
	case "siliconflow":
		return SiliconFlow, nil
	}
	return Unknown, fmt.Errorf("unknown provider %q", name)
}

// Known reports whether p is one of the supported providers.
func (p Provider) Known() bool {
	switch p {
	case DeepSeek, Gemini, SiliconFlow:
		return true
	}
	return false
}

// DisplayName is the human readable name of the provider.
func (p Provider) DisplayName() string {
	switch p {
	case DeepSeek:
		return "DeepSeek"
	case Gemini:
		return "Gemini"
	case SiliconFlow:
		return "SiliconFlow"
	}
	return "Unknown"
}

// DefaultModel is the model used when none is configured.
func (p Provider) DefaultModel() string {
	switch p {
	case DeepSeek:
		return "deepseek-chat"
	case Gemini:
		return "gemini-2.5-flash"
	case SiliconFlow:
		return "Qwen/Qwen2.5-72B-Instruct"
	}
	return ""
}

// DefaultBaseURL is the OpenAI-compatible endpoint root. Gemini goes through
// the SDK and has none.
func (p Provider) DefaultBaseURL() string {
	switch p {
	case DeepSeek:
		return "https://api.deepseek.com/v1"
	case SiliconFlow:
		return "https://api.siliconflow.cn/v1"
	}
	return ""
}

func (p Provider) String() string {
	return string(p)
}
