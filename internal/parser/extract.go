package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tatianab/story-loop/internal/provider"
)

// maxEnvelopeDepth bounds recursion through nested Gemini envelopes.
const maxEnvelopeDepth = 3

var (
	jsonFencePattern = regexp.MustCompile("(?is)```json\\s*(.*?)```")
	anyFencePattern  = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*\\s*(.*?)```")
	reasoningPattern = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>|<think>.*?</think>`)
)

// geminiStopCauses are the finish reasons that end a candidate without text.
// Recitation is not a policy block: asking again usually gets a fresh answer.
var geminiStopCauses = map[string]error{
	"SAFETY":             ErrSafetyBlocked,
	"PROHIBITED_CONTENT": ErrSafetyBlocked,
	"BLOCKLIST":          ErrSafetyBlocked,
	"SPII":               ErrSafetyBlocked,
	"RECITATION":         ErrRecitation,
}

type extraction struct {
	text     string
	method   Method
	envelope string
}

// extract finds the JSON payload. Strategies run in a fixed order and the
// first match wins: json fence, any fence, DeepSeek reasoning strip, brace
// match.
//
// Provider envelopes are the exception to that order. The envelope strategies
// nominally come after the fences, but a raw text that is itself a valid
// Gemini or SiliconFlow envelope is unwrapped first, since any fences it
// holds are escaped inside JSON strings and would not decode. Text that is
// not a whole JSON document is never treated as an envelope.
func extract(raw string, p provider.Provider, depth int) (*extraction, *ParseError) {
	if ex, perr, ok := unwrapEnvelope(raw, p, depth); ok {
		return ex, perr
	}

	if m := jsonFencePattern.FindStringSubmatch(raw); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			return &extraction{text: body, method: MethodMarkdownJSON}, nil
		}
	}

	for _, m := range anyFencePattern.FindAllStringSubmatch(raw, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			return &extraction{text: body, method: MethodCodeBlock}, nil
		}
	}

	if p == provider.DeepSeek {
		stripped := reasoningPattern.ReplaceAllString(raw, "")
		text, err := matchBraces(stripped)
		if err != nil {
			return nil, extractionError(err, raw)
		}
		method := MethodBraceMatch
		if stripped != raw {
			method = MethodReasoningStripped
		}
		return &extraction{text: text, method: method}, nil
	}

	text, err := matchBraces(raw)
	if err != nil {
		return nil, extractionError(err, raw)
	}
	return &extraction{text: text, method: MethodBraceMatch}, nil
}

// unwrapEnvelope handles provider envelopes. ok is false when raw is not an
// envelope of the provider's shape.
func unwrapEnvelope(raw string, p provider.Provider, depth int) (*extraction, *ParseError, bool) {
	if (p != provider.Gemini && p != provider.SiliconFlow) || !gjson.Valid(raw) {
		return nil, nil, false
	}
	root := gjson.Parse(raw)

	switch p {
	case provider.Gemini:
		if depth >= maxEnvelopeDepth {
			return nil, nil, false
		}
		if inner := root.Get("candidates.0.content.parts.0.text"); inner.Exists() && inner.Type == gjson.String {
			ex, perr := extract(inner.String(), p, depth+1)
			if perr != nil {
				return nil, perr, true
			}
			ex.envelope = "gemini"
			return ex, nil, true
		}
		if reason := root.Get("promptFeedback.blockReason"); reason.Exists() {
			return nil, &ParseError{
				Phase:   PhaseExtraction,
				Message: fmt.Sprintf("prompt blocked by Gemini: %s", reason.String()),
				Raw:     raw,
				Cause:   ErrSafetyBlocked,
			}, true
		}
		finish := root.Get("candidates.0.finishReason").String()
		if cause, ok := geminiStopCauses[finish]; ok {
			return nil, &ParseError{
				Phase:   PhaseExtraction,
				Message: fmt.Sprintf("candidate stopped by Gemini: %s", finish),
				Raw:     raw,
				Cause:   cause,
			}, true
		}

	case provider.SiliconFlow:
		results := root.Get("results")
		if !results.IsArray() || len(results.Array()) == 0 {
			return nil, nil, false
		}
		first := results.Array()[0]
		text := first.Raw
		if first.Type == gjson.String {
			text = first.String()
		}
		return &extraction{text: strings.TrimSpace(text), method: MethodSiliconFlowResults}, nil, true
	}
	return nil, nil, false
}

func extractionError(err error, raw string) *ParseError {
	return &ParseError{Phase: PhaseExtraction, Message: err.Error(), Raw: raw, Cause: err}
}

// matchBraces returns the text from the first '{' to the brace that brings
// the depth back to zero.
//
// The counter does not know about string literals: a '{' or '}' inside a
// quoted JSON string shifts the count. Callers rely on this exact behavior.
func matchBraces(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSON
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrUnbalanced
}
