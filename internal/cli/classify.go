package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/tatianab/story-loop/internal/apierror"
	"github.com/tatianab/story-loop/internal/config"
)

type classifyFlags struct {
	provider   string
	status     int
	retryAfter time.Duration
	lang       string
}

func newClassifyCommand() *cobra.Command {
	var f classifyFlags
	cmd := &cobra.Command{
		Use:   "classify <body|->",
		Short: "Classify a provider error body or message",
		Long: `Runs a provider error processor over an error response body or a
plain error message and prints the unified record as JSON.

Pass --status to classify it as a failed HTTP response.`,
		Example: `  story-loop classify --provider deepseek --status 401 \
    '{"error":{"message":"Authentication Fails","type":"authentication_error"}}'
  story-loop classify --provider gemini - < body.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.provider, "provider", "", "provider that returned the error (default: AI_PROVIDER)")
	cmd.Flags().IntVar(&f.status, "status", 0, "HTTP status of the response")
	cmd.Flags().DurationVar(&f.retryAfter, "retry-after", 0, "Retry-After of the response")
	cmd.Flags().StringVar(&f.lang, "lang", "", "language of the user message (default: LOCALE)")
	return cmd
}

type recordView struct {
	Code        apierror.Code     `json:"code"`
	Severity    apierror.Severity `json:"severity"`
	Retryable   bool              `json:"retryable"`
	Recovery    apierror.Recovery `json:"recoveryStrategy"`
	UserMessage string            `json:"userMessage"`
	Provider    string            `json:"provider"`
	Message     string            `json:"message,omitempty"`
	Context     map[string]any    `json:"context,omitempty"`
}

func runClassify(cmd *cobra.Command, arg string, f classifyFlags) error {
	cfg, err := config.LoadOffline()
	if err != nil {
		return err
	}
	p, err := providerFlag(f.provider, cfg)
	if err != nil {
		return err
	}
	tag := cfg.Language()
	if f.lang != "" {
		if tag, err = language.Parse(f.lang); err != nil {
			return fmt.Errorf("--lang: %w", err)
		}
	}

	body := []byte(arg)
	if arg == "-" {
		if body, err = readInput(cmd.InOrStdin(), arg); err != nil {
			return err
		}
	}

	var raw any = strings.TrimSpace(string(body))
	if f.status != 0 {
		raw = &apierror.HTTPError{StatusCode: f.status, Body: body, RetryAfter: f.retryAfter}
	}
	rec := apierror.New(p, apierror.WithLanguage(tag)).Process(raw)

	b, err := json.MarshalIndent(recordView{
		Code:        rec.Code,
		Severity:    rec.Severity,
		Retryable:   rec.Retryable,
		Recovery:    rec.Recovery,
		UserMessage: rec.UserMessage,
		Provider:    rec.Provider.DisplayName(),
		Message:     rec.Message,
		Context:     rec.Context.AdditionalData,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
