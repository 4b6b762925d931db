package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/text/language"

	"github.com/tatianab/story-loop/internal/provider"
)

// Processor classifies raw provider failures.
//
// Process accepts a decoded *Envelope, a response body as []byte or string,
// an *HTTPError, any error, a map decoded from JSON, or nil. An error that
// already wraps a *Record is returned as that record.
type Processor interface {
	Provider() provider.Provider
	Process(raw any) *Record
}

// Option configures a processor.
type Option func(*tableProcessor)

// WithLanguage selects the language of user messages.
func WithLanguage(tag language.Tag) Option {
	return func(tp *tableProcessor) {
		tp.lang = tag
	}
}

type tableProcessor struct {
	provider provider.Provider
	rules    []rule
	lang     language.Tag
}

// New returns the processor for p. Providers without their own table get
// one that only knows the common categories.
func New(p provider.Provider, opts ...Option) Processor {
	tp := &tableProcessor{
		provider: p,
		rules:    rulesFor(p),
		lang:     language.Chinese,
	}
	for _, opt := range opts {
		opt(tp)
	}
	return tp
}

func NewDeepSeekProcessor(opts ...Option) Processor { return New(provider.DeepSeek, opts...) }

func NewGeminiProcessor(opts ...Option) Processor { return New(provider.Gemini, opts...) }

func NewSiliconFlowProcessor(opts ...Option) Processor { return New(provider.SiliconFlow, opts...) }

func (tp *tableProcessor) Provider() provider.Provider {
	return tp.provider
}

func (tp *tableProcessor) Process(raw any) (rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			rec = tp.record(unknownRule, input{message: fmt.Sprint(r)})
		}
	}()

	in, existing := normalize(raw)
	if existing != nil {
		return existing
	}
	return tp.record(tp.match(in), in)
}

// match tries structured keys first, then message phrases, then the HTTP
// status, then catch-all keys such as invalid_request_error.
func (tp *tableProcessor) match(in input) rule {
	keys := in.lookupKeys()
	if r, ok := tp.matchKey(keys, func(r rule) []string { return r.keys }); ok {
		return r
	}
	if msg := strings.ToLower(in.text()); msg != "" {
		for _, r := range tp.rules {
			for _, phrase := range r.phrases {
				if strings.Contains(msg, phrase) {
					return r
				}
			}
		}
	}
	if status := in.status(); status != 0 {
		for _, r := range tp.rules {
			if slices.Contains(r.statuses, status) {
				return r
			}
		}
	}
	if r, ok := tp.matchKey(keys, func(r rule) []string { return r.weakKeys }); ok {
		return r
	}
	return unknownRule
}

func (tp *tableProcessor) matchKey(keys []string, column func(rule) []string) (rule, bool) {
	for _, key := range keys {
		k := strings.ToLower(strings.TrimSpace(key))
		for _, r := range tp.rules {
			if slices.Contains(column(r), k) {
				return r, true
			}
		}
	}
	return rule{}, false
}

func (tp *tableProcessor) record(r rule, in input) *Record {
	code := in.providerCode()
	status := in.status()
	retryAfter := in.retryAfterSeconds()

	data := map[string]any{}
	if code != "" {
		data[DataProviderCode] = code
	}
	if status != 0 {
		data[DataProviderStatus] = status
	}
	if retryAfter > 0 {
		data[DataRetryAfterSeconds] = retryAfter
	}
	if in.env != nil && in.env.Error != nil {
		if t := in.env.Error.Type; t != "" {
			data["errorType"] = t
		}
		if p := in.env.Error.Param; p != "" {
			data["param"] = p
		}
	}

	return &Record{
		Code:        r.code,
		Severity:    r.severity,
		Retryable:   r.retryable,
		Recovery:    r.recovery,
		UserMessage: UserMessage(tp.lang, r.code, tp.provider),
		Provider:    tp.provider,
		Message:     in.text(),
		Context: Context{
			ProviderCode:      code,
			ProviderStatus:    status,
			RetryAfterSeconds: retryAfter,
			AdditionalData:    data,
		},
	}
}

func normalize(raw any) (input, *Record) {
	switch v := raw.(type) {
	case nil:
		return input{}, nil
	case *Record:
		if v != nil {
			return input{}, v
		}
		return input{}, nil
	case *Envelope:
		if v == nil {
			return input{}, nil
		}
		return input{env: v}, nil
	case Envelope:
		return input{env: &v}, nil
	case *HTTPError:
		if v == nil {
			return input{}, nil
		}
		return fromHTTP(v), nil
	case []byte:
		return fromBody(v), nil
	case string:
		return fromBody([]byte(v)), nil
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return input{message: fmt.Sprint(v)}, nil
		}
		return fromBody(b), nil
	case error:
		var rec *Record
		if errors.As(v, &rec) && rec != nil {
			return input{}, rec
		}
		var he *HTTPError
		if errors.As(v, &he) && he != nil {
			return fromHTTP(he), nil
		}
		return input{message: v.Error()}, nil
	}
	return input{message: fmt.Sprint(raw)}, nil
}

func fromBody(body []byte) input {
	if env, ok := DecodeEnvelope(body); ok {
		return input{env: env}
	}
	return input{message: strings.TrimSpace(string(body))}
}

func fromHTTP(e *HTTPError) input {
	in := fromBody(e.Body)
	in.httpStatus = e.StatusCode
	in.retryAfter = e.RetryAfter.Seconds()
	if in.env == nil && in.message == "" {
		in.message = http.StatusText(e.StatusCode)
	}
	return in
}
