// Package apierror classifies AI provider failures into one normalized
// record that the game can act on: retry, fall back, ask the player to fix
// something, or give up.
//
// Processors never panic and never return nil. Input they cannot make sense
// of becomes an UNKNOWN_PROVIDER_ERROR record.
package apierror

import (
	"fmt"
	"time"

	"github.com/tatianab/story-loop/internal/provider"
)

// Code is a provider-independent error category.
type Code string

const (
	CodeInvalidAPIKey        Code = "INVALID_API_KEY"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeReasoningError       Code = "REASONING_ERROR"
	CodeCompatibilityError   Code = "COMPATIBILITY_ERROR"
	CodeCacheError           Code = "CACHE_ERROR"
	CodeTokenCalculation     Code = "TOKEN_CALCULATION_ERROR"
	CodeQuotaExceeded        Code = "QUOTA_EXCEEDED"
	CodeContentFiltered      Code = "CONTENT_FILTERED"
	CodeModelNotFound        Code = "MODEL_NOT_FOUND"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeContextTooLong       Code = "CONTEXT_TOO_LONG"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeTimeout              Code = "TIMEOUT"
	CodeUnknownProviderError Code = "UNKNOWN_PROVIDER_ERROR"
)

// Severity ranks how disruptive a failure is for the player.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Recovery tells the caller how to react.
type Recovery string

const (
	RecoveryRetry      Recovery = "RETRY"
	RecoveryFallback   Recovery = "FALLBACK"
	RecoveryUserAction Recovery = "USER_ACTION"
	RecoveryNone       Recovery = "NONE"
)

// Keys always present in Context.AdditionalData when the value is known.
const (
	DataProviderCode      = "providerCode"
	DataProviderStatus    = "providerStatus"
	DataRetryAfterSeconds = "retryAfterSeconds"
)

// Context carries the provider's original identifiers.
type Context struct {
	ProviderCode      string
	ProviderStatus    int
	RetryAfterSeconds float64
	AdditionalData    map[string]any
}

// Record is one classified provider failure. Records are built fresh for
// each failure and not modified afterwards.
type Record struct {
	Code        Code
	Severity    Severity
	Retryable   bool
	Recovery    Recovery
	UserMessage string
	Provider    provider.Provider
	// Message is the provider's own error text, if any.
	Message string
	Context Context
}

func (r *Record) Error() string {
	if r.Message == "" {
		return fmt.Sprintf("%s error %s", r.Provider.DisplayName(), r.Code)
	}
	return fmt.Sprintf("%s error %s: %s", r.Provider.DisplayName(), r.Code, r.Message)
}

// RetryAfter is the wait the provider asked for, or zero.
func (r *Record) RetryAfter() time.Duration {
	return time.Duration(r.Context.RetryAfterSeconds * float64(time.Second))
}
