package parser

import (
	"encoding/json"
	"strings"
)

// OpenAIResponse is an OpenAI-compatible chat completion body, as returned
// by DeepSeek and SiliconFlow.
type OpenAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message *struct {
			Role             string  `json:"role"`
			Content          *string `json:"content"`
			ReasoningContent string  `json:"reasoning_content,omitempty"`
		} `json:"message"`
		// Text is set by legacy completion endpoints.
		Text         *string `json:"text,omitempty"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GeminiResponse is a generateContent response body.
type GeminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text    string `json:"text,omitempty"`
				Thought bool   `json:"thought,omitempty"`
			} `json:"parts"`
			Role string `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// ExtractFromOpenAIFormat returns the first choice's message content.
func ExtractFromOpenAIFormat(body []byte) (string, bool) {
	var resp OpenAIResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return "", false
	}
	c := resp.Choices[0]
	if c.Message != nil && c.Message.Content != nil {
		return *c.Message.Content, true
	}
	if c.Text != nil {
		return *c.Text, true
	}
	return "", false
}

// ExtractFromGeminiFormat joins the text parts of the first candidate,
// skipping thought parts.
func ExtractFromGeminiFormat(body []byte) (string, bool) {
	var resp GeminiResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Candidates) == 0 {
		return "", false
	}
	var sb strings.Builder
	found := false
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought || part.Text == "" {
			continue
		}
		sb.WriteString(part.Text)
		found = true
	}
	return sb.String(), found
}

// Unwrap strips a known HTTP response envelope from body. It reports the
// envelope format it removed, or returns body unchanged with "".
func Unwrap(body []byte) (string, string) {
	if text, ok := ExtractFromOpenAIFormat(body); ok {
		return text, "openai"
	}
	if text, ok := ExtractFromGeminiFormat(body); ok {
		return text, "gemini"
	}
	return string(body), ""
}
