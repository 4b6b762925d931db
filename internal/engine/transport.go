package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tatianab/story-loop/internal/apierror"
	"github.com/tatianab/story-loop/internal/parser"
	"github.com/tatianab/story-loop/internal/provider"
)

// Transport sends a prompt to a provider and returns its raw answer.
// Provider failures should be returned as *apierror.HTTPError when the
// HTTP status is known.
type Transport interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, prompt string) (string, error)

func (f TransportFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const maxResponseBytes = 10 * 1024 * 1024

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// OpenAITransport talks to an OpenAI-compatible chat completions endpoint,
// as DeepSeek and SiliconFlow offer.
type OpenAITransport struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Client      *http.Client
}

// NewOpenAITransport returns a transport with a 2 minute request timeout.
func NewOpenAITransport(baseURL, apiKey, model string) *OpenAITransport {
	return &OpenAITransport{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.8,
		Client:      &http.Client{Timeout: 2 * time.Minute},
	}
}

func (t *OpenAITransport) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       t.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: t.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", &apierror.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       data,
			RetryAfter: apierror.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	// Some gateways answer 200 with an error body.
	if env, ok := apierror.DecodeEnvelope(data); ok && (env.Error != nil || env.Code.Text != "") {
		return "", &apierror.HTTPError{StatusCode: resp.StatusCode, Body: data}
	}
	if text, ok := parser.ExtractFromOpenAIFormat(data); ok {
		return text, nil
	}
	// Unknown shape: hand it to the parser as is.
	return string(data), nil
}

// GeminiTransport uses the Gemini SDK.
type GeminiTransport struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiTransport(ctx context.Context, apiKey, model string) (*GeminiTransport, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = provider.Gemini.DefaultModel()
	}
	m := client.GenerativeModel(model)
	m.ResponseMIMEType = "application/json"
	return &GeminiTransport{client: client, model: m}, nil
}

func (t *GeminiTransport) Close() error {
	return t.client.Close()
}

func (t *GeminiTransport) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := t.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			// The parser recognizes Gemini's block envelopes.
			return blockedEnvelope(blocked), nil
		}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			body := []byte(gerr.Body)
			if len(body) == 0 {
				body, _ = json.Marshal(map[string]any{"error": map[string]any{"code": gerr.Code, "message": gerr.Message}})
			}
			return "", &apierror.HTTPError{StatusCode: gerr.Code, Body: body}
		}
		return "", err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no content returned from Gemini")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("unexpected response type from Gemini")
	}
	return sb.String(), nil
}

func blockedEnvelope(b *genai.BlockedError) string {
	var v any
	if b.PromptFeedback != nil {
		reason := "OTHER"
		if b.PromptFeedback.BlockReason == genai.BlockReasonSafety {
			reason = "SAFETY"
		}
		v = map[string]any{"promptFeedback": map[string]any{"blockReason": reason}}
	} else {
		reason := "SAFETY"
		if b.Candidate != nil && b.Candidate.FinishReason == genai.FinishReasonRecitation {
			reason = "RECITATION"
		}
		v = map[string]any{"candidates": []any{map[string]any{"finishReason": reason}}}
	}
	data, _ := json.Marshal(v)
	return string(data)
}
