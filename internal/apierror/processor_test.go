package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/tatianab/story-loop/internal/provider"
)

func TestDeepSeekInvalidAPIKey(t *testing.T) {
	rec := NewDeepSeekProcessor().Process(`{"error":{"code":"invalid_api_key","status":401}}`)

	assert.Equal(t, CodeInvalidAPIKey, rec.Code)
	assert.False(t, rec.Retryable)
	assert.Equal(t, RecoveryUserAction, rec.Recovery)
	assert.Equal(t, SeverityHigh, rec.Severity)
	assert.Contains(t, rec.UserMessage, "密钥")
	assert.Equal(t, "invalid_api_key", rec.Context.ProviderCode)
	assert.Equal(t, 401, rec.Context.ProviderStatus)
	assert.Equal(t, "invalid_api_key", rec.Context.AdditionalData[DataProviderCode])
	assert.Equal(t, 401, rec.Context.AdditionalData[DataProviderStatus])

	en := NewDeepSeekProcessor(WithLanguage(language.AmericanEnglish)).
		Process(`{"error":{"code":"invalid_api_key","status":401}}`)
	assert.Contains(t, en.UserMessage, "API key")
}

func TestDeepSeekRateLimit(t *testing.T) {
	rec := NewDeepSeekProcessor().Process(`{"error":{"code":"rate_limit_exceeded","retry_after":2},"status":429}`)

	assert.Equal(t, CodeRateLimitExceeded, rec.Code)
	assert.True(t, rec.Retryable)
	assert.Equal(t, RecoveryRetry, rec.Recovery)
	assert.Equal(t, 2.0, rec.Context.AdditionalData[DataRetryAfterSeconds])
	assert.Equal(t, 429, rec.Context.ProviderStatus)
	assert.Equal(t, 2*time.Second, rec.RetryAfter())
}

func TestDeepSeekHeuristics(t *testing.T) {
	tests := []struct {
		msg       string
		code      Code
		recovery  Recovery
		retryable bool
	}{
		{"DeepSeek KV cache error occurred", CodeCacheError, RecoveryFallback, false},
		{"Reasoning mode failed for this request", CodeReasoningError, RecoveryFallback, false},
		{"compatibility mode is not available", CodeCompatibilityError, RecoveryFallback, false},
		{"Token calculation error", CodeTokenCalculation, RecoveryRetry, true},
		{"Authentication Fails (no such user)", CodeInvalidAPIKey, RecoveryUserAction, false},
		{"Insufficient Balance", CodeQuotaExceeded, RecoveryUserAction, false},
		{"This model's maximum context length is 65536 tokens", CodeContextTooLong, RecoveryFallback, false},
		{"Post \"https://api.deepseek.com\": context deadline exceeded", CodeTimeout, RecoveryRetry, true},
	}

	p := NewDeepSeekProcessor()
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			rec := p.Process(errors.New(tt.msg))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.recovery, rec.Recovery)
			assert.Equal(t, tt.retryable, rec.Retryable)
			assert.Equal(t, tt.msg, rec.Message)
		})
	}
}

func TestDeepSeekCatchAllCode(t *testing.T) {
	body := func(msg, typ string) []byte {
		return []byte(fmt.Sprintf(`{"error":{"message":%q,"type":%q,"param":null,"code":"invalid_request_error"}}`, msg, typ))
	}
	tests := []struct {
		name      string
		status    int
		body      []byte
		code      Code
		recovery  Recovery
		retryable bool
	}{
		{"auth", 401, body("Authentication Fails, Your api key: ****1234 is invalid", "authentication_error"), CodeInvalidAPIKey, RecoveryUserAction, false},
		{"balance", 402, body("Insufficient Balance", "unknown_error"), CodeQuotaExceeded, RecoveryUserAction, false},
		{"rate", 429, body("Rate limit reached for requests", "rate_limit_error"), CodeRateLimitExceeded, RecoveryRetry, true},
		{"context", 400, body("This model's maximum context length is 65536 tokens", "invalid_request_error"), CodeContextTooLong, RecoveryFallback, false},
		{"overloaded", 503, body("The server is busy", "server_error"), CodeServiceUnavailable, RecoveryRetry, true},
		{"status only", 429, body("slow down", "invalid_request_error"), CodeRateLimitExceeded, RecoveryRetry, true},
		{"bad request", 400, body("messages must not be empty", "invalid_request_error"), CodeInvalidRequest, RecoveryNone, false},
	}

	p := NewDeepSeekProcessor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := p.Process(&HTTPError{StatusCode: tt.status, Body: tt.body})
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.recovery, rec.Recovery)
			assert.Equal(t, tt.retryable, rec.Retryable)
			assert.Equal(t, "invalid_request_error", rec.Context.ProviderCode)
		})
	}

	rec := p.Process(`{"error":{"message":"bad","code":"invalid_request_error"}}`)
	assert.Equal(t, CodeInvalidRequest, rec.Code)
}

func TestSensitiveWordingIsNotContentFilter(t *testing.T) {
	rec := NewDeepSeekProcessor().Process(errors.New("model name is case-sensitive: model not found"))
	assert.Equal(t, CodeModelNotFound, rec.Code)

	rec = NewDeepSeekProcessor().Process(errors.New("Content Exists Risk: sensitive content detected"))
	assert.Equal(t, CodeContentFiltered, rec.Code)
}

func TestUnknownInputs(t *testing.T) {
	p := NewDeepSeekProcessor()
	for _, raw := range []any{
		nil,
		errors.New("the moon is made of cheese"),
		`{"error":{"code":"galaxy_brain"}}`,
		42,
		(*HTTPError)(nil),
		struct{ X int }{1},
	} {
		rec := p.Process(raw)
		require.NotNil(t, rec, "%v", raw)
		assert.Equal(t, CodeUnknownProviderError, rec.Code, "%v", raw)
		assert.Equal(t, RecoveryFallback, rec.Recovery)
		assert.Equal(t, SeverityMedium, rec.Severity)
		assert.False(t, rec.Retryable)
		assert.NotNil(t, rec.Context.AdditionalData)
		assert.NotEmpty(t, rec.UserMessage)
	}
}

func TestUnknownKeepsProviderCode(t *testing.T) {
	rec := NewDeepSeekProcessor().Process(`{"error":{"code":"galaxy_brain","type":"weird"}}`)
	assert.Equal(t, CodeUnknownProviderError, rec.Code)
	assert.Equal(t, "galaxy_brain", rec.Context.AdditionalData[DataProviderCode])
	assert.Equal(t, "weird", rec.Context.AdditionalData["errorType"])
}

func TestGeminiProcessor(t *testing.T) {
	p := NewGeminiProcessor()

	tests := []struct {
		name      string
		raw       any
		code      Code
		retryable bool
		retry     float64
	}{
		{
			name: "reason wins over status",
			raw: `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT",` +
				`"details":[{"@type":"type.googleapis.com/google.rpc.ErrorInfo","reason":"API_KEY_INVALID","domain":"googleapis.com"}]}}`,
			code: CodeInvalidAPIKey,
		},
		{
			name: "resource exhausted with retry delay",
			raw: `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED",` +
				`"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`,
			code:      CodeRateLimitExceeded,
			retryable: true,
			retry:     30,
		},
		{
			name: "invalid argument",
			raw:  `{"error":{"code":400,"message":"Invalid JSON payload","status":"INVALID_ARGUMENT"}}`,
			code: CodeInvalidRequest,
		},
		{
			name:      "unavailable",
			raw:       `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`,
			code:      CodeServiceUnavailable,
			retryable: true,
		},
		{
			name: "blocked prompt",
			raw:  `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			code: CodeContentFiltered,
		},
		{
			name:      "bare status via http error",
			raw:       &HTTPError{StatusCode: 504},
			code:      CodeTimeout,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := p.Process(tt.raw)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.retryable, rec.Retryable)
			assert.Equal(t, tt.retry, rec.Context.RetryAfterSeconds)
			assert.Equal(t, provider.Gemini, rec.Provider)
		})
	}

	rec := p.Process(`{"error":{"code":400,"status":"INVALID_ARGUMENT","details":[{"reason":"API_KEY_INVALID"}]}}`)
	assert.Equal(t, "API_KEY_INVALID", rec.Context.ProviderCode)
	assert.Equal(t, 400, rec.Context.ProviderStatus)
}

func TestSiliconFlowProcessor(t *testing.T) {
	p := NewSiliconFlowProcessor()

	rec := p.Process(`{"code":30001,"message":"Sorry, your account balance is insufficient","data":null}`)
	assert.Equal(t, CodeQuotaExceeded, rec.Code)
	assert.Equal(t, RecoveryUserAction, rec.Recovery)
	assert.Equal(t, "30001", rec.Context.ProviderCode)
	assert.Equal(t, 0, rec.Context.ProviderStatus)

	rec = p.Process(&HTTPError{
		StatusCode: 400,
		Body:       []byte(`{"code":20015,"message":"length of prompt_tokens (40000) must be less than max_seq_len (32768)."}`),
	})
	assert.Equal(t, CodeContextTooLong, rec.Code)
	assert.Equal(t, 400, rec.Context.ProviderStatus)

	rec = p.Process(&HTTPError{StatusCode: 503, Body: []byte("upstream busy"), RetryAfter: 3 * time.Second})
	assert.Equal(t, CodeServiceUnavailable, rec.Code)
	assert.True(t, rec.Retryable)
	assert.Equal(t, 3.0, rec.Context.AdditionalData[DataRetryAfterSeconds])
}

func TestProcessUnwrapsErrors(t *testing.T) {
	p := NewDeepSeekProcessor()

	httpErr := &HTTPError{StatusCode: 429, Body: []byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`)}
	rec := p.Process(fmt.Errorf("complete: %w", httpErr))
	assert.Equal(t, CodeRateLimitExceeded, rec.Code)
	assert.Equal(t, "Rate limit reached", rec.Message)

	first := p.Process(`{"error":{"code":"invalid_api_key"}}`)
	again := p.Process(fmt.Errorf("round 3: %w", first))
	assert.Same(t, first, again)

	var target *Record
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", first), &target))

	rec = p.Process(context.DeadlineExceeded)
	assert.Equal(t, CodeTimeout, rec.Code)
}

func TestProcessEnvelopeValues(t *testing.T) {
	p := NewDeepSeekProcessor()
	env := Envelope{Error: &ErrorBody{Code: Text("kv_cache_error"), Message: "cache miss"}, Status: Number(500)}

	assert.Equal(t, CodeCacheError, p.Process(env).Code)
	assert.Equal(t, CodeCacheError, p.Process(&env).Code)
	assert.Equal(t, 500, p.Process(&env).Context.ProviderStatus)

	rec := p.Process(map[string]any{"error": map[string]any{"code": "invalid_api_key"}})
	assert.Equal(t, CodeInvalidAPIKey, rec.Code)
}

func TestErrorBodyAsString(t *testing.T) {
	rec := NewSiliconFlowProcessor().Process(`{"error":"Unauthorized"}`)
	assert.Equal(t, CodeInvalidAPIKey, rec.Code)
	assert.Equal(t, "Unauthorized", rec.Message)
}

func TestUserMessageLanguages(t *testing.T) {
	zh := UserMessage(language.Make("zh-CN"), CodeServiceUnavailable, provider.Gemini)
	assert.Equal(t, "Gemini 服务暂时不可用，请稍后再试。", zh)

	en := UserMessage(language.English, CodeServiceUnavailable, provider.Gemini)
	assert.Equal(t, "Gemini is temporarily unavailable. Please try again later.", en)

	// unsupported languages fall back to Chinese
	fr := UserMessage(language.French, CodeTimeout, provider.DeepSeek)
	assert.True(t, strings.HasPrefix(fr, "DeepSeek 响应超时"), fr)

	unknown := UserMessage(language.Chinese, CodeTimeout, provider.Unknown)
	assert.True(t, strings.HasPrefix(unknown, "AI "), unknown)

	for _, c := range []Code{
		CodeInvalidAPIKey, CodeRateLimitExceeded, CodeReasoningError, CodeCompatibilityError,
		CodeCacheError, CodeTokenCalculation, CodeQuotaExceeded, CodeContentFiltered,
		CodeModelNotFound, CodeServiceUnavailable, CodeContextTooLong, CodeInvalidRequest,
		CodeTimeout, CodeUnknownProviderError,
	} {
		for _, tag := range supportedLanguages {
			msg := UserMessage(tag, c, provider.DeepSeek)
			assert.NotContains(t, msg, "apierror.", "%s %s", tag, c)
			assert.Contains(t, msg, "DeepSeek")
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, 2*time.Second, ParseRetryAfter("2", now))
	assert.Equal(t, 1500*time.Millisecond, ParseRetryAfter("1.5", now))
	assert.Equal(t, 10*time.Second, ParseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
	assert.Zero(t, ParseRetryAfter("-3", now))
}

func TestHTTPErrorMessage(t *testing.T) {
	assert.Equal(t, "http status 502", (&HTTPError{StatusCode: 502}).Error())
	long := &HTTPError{StatusCode: 500, Body: []byte(strings.Repeat("x", 300))}
	assert.True(t, strings.HasSuffix(long.Error(), "..."))
}
