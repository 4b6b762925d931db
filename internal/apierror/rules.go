package apierror

import "github.com/tatianab/story-loop/internal/provider"

// rule maps provider identifiers, message fragments and HTTP statuses to
// one classification. Keys and phrases are lowercase. weakKeys are catch-all
// identifiers that only count when nothing more specific matched.
type rule struct {
	code      Code
	severity  Severity
	retryable bool
	recovery  Recovery
	keys      []string
	weakKeys  []string
	phrases   []string
	statuses  []int
}

var unknownRule = rule{
	code:     CodeUnknownProviderError,
	severity: SeverityMedium,
	recovery: RecoveryFallback,
}

// commonRules apply to every provider, after its own rows.
var commonRules = []rule{
	{
		code: CodeInvalidAPIKey, severity: SeverityHigh, recovery: RecoveryUserAction,
		keys:     []string{"invalid_api_key", "authentication_error", "unauthorized", "invalid_token"},
		phrases:  []string{"invalid api key", "incorrect api key", "api key not valid", "authentication fails", "unauthorized", "invalid token"},
		statuses: []int{401},
	},
	{
		code: CodeQuotaExceeded, severity: SeverityHigh, recovery: RecoveryUserAction,
		keys:     []string{"insufficient_balance", "insufficient_quota", "billing_hard_limit_reached"},
		phrases:  []string{"insufficient balance", "insufficient quota", "exceeded your current quota", "balance is insufficient"},
		statuses: []int{402},
	},
	{
		code: CodeRateLimitExceeded, severity: SeverityMedium, retryable: true, recovery: RecoveryRetry,
		keys:     []string{"rate_limit_exceeded", "rate_limit_error", "too_many_requests"},
		phrases:  []string{"rate limit", "too many requests", "tpm limit", "rpm limit"},
		statuses: []int{429},
	},
	{
		code: CodeContextTooLong, severity: SeverityMedium, recovery: RecoveryFallback,
		keys:    []string{"context_length_exceeded", "context_too_long"},
		phrases: []string{"context length", "maximum context", "context window", "too many tokens", "prompt is too long"},
	},
	{
		code: CodeContentFiltered, severity: SeverityMedium, recovery: RecoveryFallback,
		keys:    []string{"content_filter", "content_policy_violation", "sensitive_content"},
		phrases: []string{"content filter", "content policy", "content risk", "sensitive content"},
	},
	{
		code: CodeModelNotFound, severity: SeverityHigh, recovery: RecoveryUserAction,
		keys:     []string{"model_not_found"},
		phrases:  []string{"model not found", "model does not exist", "no such model"},
		statuses: []int{404},
	},
	{
		code: CodeTimeout, severity: SeverityMedium, retryable: true, recovery: RecoveryRetry,
		keys:     []string{"timeout", "request_timeout"},
		phrases:  []string{"timeout", "timed out", "deadline exceeded"},
		statuses: []int{408, 504},
	},
	{
		code: CodeServiceUnavailable, severity: SeverityMedium, retryable: true, recovery: RecoveryRetry,
		keys:     []string{"server_error", "service_unavailable", "server_overloaded", "overloaded_error", "internal_error"},
		phrases:  []string{"service unavailable", "server error", "overloaded", "bad gateway", "connection refused", "connection reset"},
		statuses: []int{500, 502, 503},
	},
	{
		code: CodeInvalidRequest, severity: SeverityMedium, recovery: RecoveryNone,
		keys:     []string{"invalid_parameter"},
		weakKeys: []string{"invalid_request_error", "invalid_request"},
		phrases:  []string{"invalid request", "invalid parameter"},
		statuses: []int{400, 422},
	},
}

var deepSeekRules = []rule{
	{
		code: CodeReasoningError, severity: SeverityMedium, recovery: RecoveryFallback,
		keys:    []string{"reasoning_error", "reasoning_mode_error", "reasoner_error"},
		phrases: []string{"reasoning mode", "reasoning_content"},
	},
	{
		code: CodeCompatibilityError, severity: SeverityMedium, recovery: RecoveryFallback,
		keys:    []string{"compatibility_error", "compatibility_mode_error"},
		phrases: []string{"compatibility mode", "compatibility error"},
	},
	{
		code: CodeCacheError, severity: SeverityMedium, recovery: RecoveryFallback,
		keys:    []string{"kv_cache_error", "cache_error", "context_cache_error"},
		phrases: []string{"kv cache", "cache error", "context cache"},
	},
	{
		code: CodeTokenCalculation, severity: SeverityLow, retryable: true, recovery: RecoveryRetry,
		keys:    []string{"token_calculation_error", "tokenizer_error"},
		phrases: []string{"token calculation", "token count"},
	},
}

// geminiRules cover Google RPC statuses and ErrorInfo reasons.
var geminiRules = []rule{
	{
		code: CodeInvalidAPIKey, severity: SeverityHigh, recovery: RecoveryUserAction,
		keys:     []string{"api_key_invalid", "api_key_expired", "unauthenticated", "permission_denied", "api_key_service_blocked"},
		phrases:  []string{"api key expired", "permission denied"},
		statuses: []int{403},
	},
	{
		code: CodeRateLimitExceeded, severity: SeverityMedium, retryable: true, recovery: RecoveryRetry,
		keys:    []string{"resource_exhausted", "rate_limit_exceeded"},
		phrases: []string{"resource has been exhausted", "resource exhausted"},
	},
	{
		code: CodeContentFiltered, severity: SeverityMedium, recovery: RecoveryFallback,
		keys:    []string{"safety", "blocklist", "prohibited_content", "spii", "other"},
		phrases: []string{"safety", "blocked"},
	},
	{
		code: CodeModelNotFound, severity: SeverityHigh, recovery: RecoveryUserAction,
		keys:    []string{"not_found"},
		phrases: []string{"is not found for api version", "not supported for generatecontent"},
	},
	{
		code: CodeServiceUnavailable, severity: SeverityMedium, retryable: true, recovery: RecoveryRetry,
		keys: []string{"unavailable", "internal"},
	},
	{
		code: CodeTimeout, severity: SeverityMedium, retryable: true, recovery: RecoveryRetry,
		keys: []string{"deadline_exceeded"},
	},
	{
		code: CodeInvalidRequest, severity: SeverityMedium, recovery: RecoveryNone,
		keys:    []string{"invalid_argument", "failed_precondition", "out_of_range"},
		phrases: []string{"user location is not supported"},
	},
}

// siliconFlowRules cover the numeric codes of SiliconFlow's flat error body.
var siliconFlowRules = []rule{
	{
		code: CodeQuotaExceeded, severity: SeverityHigh, recovery: RecoveryUserAction,
		keys:    []string{"30001", "30011"},
		phrases: []string{"account balance", "paid balance"},
	},
	{
		code: CodeModelNotFound, severity: SeverityHigh, recovery: RecoveryUserAction,
		keys:    []string{"20012"},
		phrases: []string{"model disabled"},
	},
	{
		code: CodeContextTooLong, severity: SeverityMedium, recovery: RecoveryFallback,
		keys:    []string{"20015"},
		phrases: []string{"max_seq_len", "must be less than max"},
	},
	{
		code: CodeRateLimitExceeded, severity: SeverityMedium, retryable: true, recovery: RecoveryRetry,
		keys:    []string{"50603"},
		phrases: []string{"system is too busy", "request was rejected"},
	},
	{
		code: CodeServiceUnavailable, severity: SeverityMedium, retryable: true, recovery: RecoveryRetry,
		keys:    []string{"50501", "50505", "50507"},
		phrases: []string{"model service overloaded"},
	},
}

func rulesFor(p provider.Provider) []rule {
	var own []rule
	switch p {
	case provider.DeepSeek:
		own = deepSeekRules
	case provider.Gemini:
		own = geminiRules
	case provider.SiliconFlow:
		own = siliconFlowRules
	}
	out := make([]rule, 0, len(own)+len(commonRules))
	out = append(out, own...)
	return append(out, commonRules...)
}
