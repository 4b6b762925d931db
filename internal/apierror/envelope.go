package apierror

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Scalar is a JSON value that providers send as either a string or a
// number, like error codes and statuses.
type Scalar struct {
	Text     string
	Number   float64
	IsNumber bool
}

// Text returns a string Scalar.
func Text(s string) Scalar { return Scalar{Text: s} }

// Number returns a numeric Scalar.
func Number(n float64) Scalar {
	return Scalar{Text: strconv.FormatFloat(n, 'f', -1, 64), Number: n, IsNumber: true}
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = Scalar{}
		return nil
	}
	if data[0] == '"' {
		var t string
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*s = Text(t)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		*s = Text(string(data))
		return nil
	}
	*s = Number(n)
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch {
	case s.IsNumber:
		return json.Marshal(s.Number)
	case s.Text == "":
		return []byte("null"), nil
	}
	return json.Marshal(s.Text)
}

// Seconds reads the scalar as a number of seconds.
func (s Scalar) Seconds() float64 {
	if s.IsNumber {
		return s.Number
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s.Text), "s"), 64)
	if err != nil {
		return 0
	}
	return n
}

// httpStatus returns the scalar as an HTTP status code, or zero.
func (s Scalar) httpStatus() int {
	if !s.IsNumber || s.Number < 100 || s.Number > 599 {
		return 0
	}
	return int(s.Number)
}

// Detail is one entry of a Google RPC error details list.
type Detail struct {
	Type       string            `json:"@type"`
	Reason     string            `json:"reason,omitempty"`
	Domain     string            `json:"domain,omitempty"`
	RetryDelay string            `json:"retryDelay,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ErrorBody is the "error" member of a provider error response. It covers
// the OpenAI-compatible shape ({code, type, message, param}) and the
// Google shape ({code, status, message, details}).
type ErrorBody struct {
	Code       Scalar   `json:"code"`
	Status     Scalar   `json:"status"`
	Type       string   `json:"type,omitempty"`
	Message    string   `json:"message,omitempty"`
	Param      string   `json:"param,omitempty"`
	RetryAfter Scalar   `json:"retry_after"`
	Details    []Detail `json:"details,omitempty"`
}

// UnmarshalJSON also accepts a bare string, used by some gateways.
func (b *ErrorBody) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var msg string
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		*b = ErrorBody{Message: msg}
		return nil
	}
	type plain ErrorBody
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = ErrorBody(p)
	return nil
}

// Envelope is a provider error response. SiliconFlow sometimes sends a
// flat {code, message} object without an "error" member.
type Envelope struct {
	Error          *ErrorBody      `json:"error,omitempty"`
	Status         Scalar          `json:"status"`
	Code           Scalar          `json:"code"`
	Message        string          `json:"message,omitempty"`
	RetryAfter     Scalar          `json:"retry_after"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
}

// PromptFeedback is Gemini's report on a blocked prompt.
type PromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

// DecodeEnvelope decodes data as a provider error response. ok is false
// when data is not JSON or carries none of the known error members.
func DecodeEnvelope(data []byte) (*Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(bytes.TrimSpace(data), &env); err != nil {
		return nil, false
	}
	if env.Error == nil && env.Code.Text == "" && env.Status.Text == "" && env.Message == "" &&
		(env.PromptFeedback == nil || env.PromptFeedback.BlockReason == "") {
		return nil, false
	}
	return &env, true
}

// input is everything a processor learned about one failure.
type input struct {
	env        *Envelope
	message    string
	httpStatus int
	retryAfter float64
}

// lookupKeys lists structured identifiers in the order they are tried
// against the rule table.
func (in input) lookupKeys() []string {
	var keys []string
	if in.env == nil {
		return keys
	}
	if b := in.env.Error; b != nil {
		for _, d := range b.Details {
			if d.Reason != "" {
				keys = append(keys, d.Reason)
			}
		}
		if !b.Code.IsNumber && b.Code.Text != "" {
			keys = append(keys, b.Code.Text)
		}
		if !b.Status.IsNumber && b.Status.Text != "" {
			keys = append(keys, b.Status.Text)
		}
		if b.Type != "" {
			keys = append(keys, b.Type)
		}
	}
	if in.env.Code.Text != "" {
		keys = append(keys, in.env.Code.Text)
	}
	if pf := in.env.PromptFeedback; pf != nil && pf.BlockReason != "" {
		keys = append(keys, pf.BlockReason)
	}
	return keys
}

func (in input) text() string {
	if in.env != nil {
		if in.env.Error != nil && in.env.Error.Message != "" {
			return in.env.Error.Message
		}
		if in.env.Message != "" {
			return in.env.Message
		}
	}
	return in.message
}

func (in input) status() int {
	if in.httpStatus != 0 {
		return in.httpStatus
	}
	if in.env == nil {
		return 0
	}
	if s := in.env.Status.httpStatus(); s != 0 {
		return s
	}
	if b := in.env.Error; b != nil {
		if s := b.Status.httpStatus(); s != 0 {
			return s
		}
		return b.Code.httpStatus()
	}
	return 0
}

// providerCode is the provider's own name for the failure.
func (in input) providerCode() string {
	if in.env == nil {
		return ""
	}
	if b := in.env.Error; b != nil {
		if b.Code.Text != "" && !(b.Code.IsNumber && b.Code.httpStatus() != 0) {
			return b.Code.Text
		}
		for _, d := range b.Details {
			if d.Reason != "" {
				return d.Reason
			}
		}
		if !b.Status.IsNumber && b.Status.Text != "" {
			return b.Status.Text
		}
		if b.Type != "" {
			return b.Type
		}
	}
	if in.env.Code.Text != "" {
		return in.env.Code.Text
	}
	if pf := in.env.PromptFeedback; pf != nil {
		return pf.BlockReason
	}
	return ""
}

func (in input) retryAfterSeconds() float64 {
	if in.env != nil {
		if b := in.env.Error; b != nil {
			if s := b.RetryAfter.Seconds(); s > 0 {
				return s
			}
			for _, d := range b.Details {
				if d.RetryDelay == "" {
					continue
				}
				if dur, err := time.ParseDuration(d.RetryDelay); err == nil && dur > 0 {
					return dur.Seconds()
				}
			}
		}
		if s := in.env.RetryAfter.Seconds(); s > 0 {
			return s
		}
	}
	return in.retryAfter
}
