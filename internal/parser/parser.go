// Package parser turns free-form AI provider output into validated game data.
//
// Parsing runs in three phases (extraction, parsing, validation). Each can
// fail on its own and the failure records which phase it came from. There
// is no partial success: a response either fully satisfies
// models.ParsedGameData or the whole parse fails.
package parser

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/provider"
)

// Phase names the pipeline step that failed.
type Phase string

const (
	PhaseExtraction Phase = "extraction"
	PhaseParsing    Phase = "parsing"
	PhaseValidation Phase = "validation"
)

// Method names the extraction strategy that found the JSON payload.
type Method string

const (
	MethodMarkdownJSON       Method = "markdown_json"
	MethodCodeBlock          Method = "code_block"
	MethodReasoningStripped  Method = "reasoning_stripped"
	MethodSiliconFlowResults Method = "siliconflow_results"
	MethodBraceMatch         Method = "brace_match"
)

var (
	ErrNoJSON        = errors.New("no JSON object found in response")
	ErrUnbalanced    = errors.New("unbalanced braces in response")
	ErrSafetyBlocked = errors.New("response blocked by provider safety filter")
	ErrRecitation    = errors.New("response stopped for reciting source material")
	ErrInvalidJSON   = errors.New("invalid JSON")
	ErrInvalidShape  = errors.New("response does not match the game data shape")
)

// Options configures one Parse call.
type Options struct {
	Provider    provider.Provider
	RawResponse string

	// EnableAutoFix repairs common JSON mistakes before giving up.
	EnableAutoFix bool

	// StrictMode is accepted for compatibility with callers that set it.
	// It currently changes nothing: validation is always the full check.
	StrictMode bool
}

// DefaultOptions returns options with auto-fix enabled.
func DefaultOptions(p provider.Provider, raw string) Options {
	return Options{Provider: p, RawResponse: raw, EnableAutoFix: true}
}

// ParseError is a phase-tagged parse failure.
type ParseError struct {
	Phase   Phase
	Message string
	// Issues lists individual validation problems, sorted.
	Issues []string
	// Raw is the text the failing phase worked on, for diagnostics.
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Phase, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Metadata describes how a response was parsed.
type Metadata struct {
	Method Method
	// Envelope is "gemini" when the payload was found inside a Gemini
	// response envelope.
	Envelope        string
	AutoFixed       bool
	Elapsed         time.Duration
	RawLength       int
	ExtractedLength int
}

// Result is the outcome of Parse. Exactly one of Data and Err is set.
type Result struct {
	Data     *models.ParsedGameData
	Metadata Metadata
	Err      *ParseError
}

// OK reports whether parsing succeeded.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil && r.Data != nil
}

// Error returns Err as an error, or nil.
func (r *Result) Error() error {
	if r == nil || r.Err == nil {
		return nil
	}
	return r.Err
}

// Parse extracts, parses and validates one provider response. It is pure
// and safe for concurrent use.
func Parse(opts Options) *Result {
	start := time.Now()
	res := &Result{Metadata: Metadata{RawLength: utf8.RuneCountInString(opts.RawResponse)}}
	defer func() {
		res.Metadata.Elapsed = time.Since(start)
	}()

	ex, perr := extract(opts.RawResponse, opts.Provider, 0)
	if perr != nil {
		res.Err = perr
		return res
	}
	res.Metadata.Method = ex.method
	res.Metadata.Envelope = ex.envelope
	res.Metadata.ExtractedLength = utf8.RuneCountInString(ex.text)

	text, value, fixed, perr := decode(ex.text, opts.EnableAutoFix)
	if perr != nil {
		res.Err = perr
		return res
	}
	res.Metadata.AutoFixed = fixed

	data, perr := validate(text, value)
	if perr != nil {
		res.Err = perr
		return res
	}
	res.Data = data
	return res
}
