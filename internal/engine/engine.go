// Package engine drives one game round: it builds the prompt, sends it
// through a Transport, parses the answer and applies it to the session.
// Provider failures are classified by an apierror.Processor and retried
// when the record says so.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/tatianab/story-loop/internal/apierror"
	"github.com/tatianab/story-loop/internal/journal"
	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/parser"
	"github.com/tatianab/story-loop/internal/prompt"
	"github.com/tatianab/story-loop/internal/provider"
)

// OpeningInput is the action sent for the system round that opens a game.
const OpeningInput = "开始游戏，请描述开场场景。"

const defaultRetryWait = time.Second

// ErrEmptyInput is returned by PlayRound for blank player input.
var ErrEmptyInput = errors.New("empty player input")

// Recorder receives telemetry about rounds. *journal.Journal implements it.
type Recorder interface {
	RecordRound(ctx context.Context, e journal.RoundEntry) error
	RecordFailure(ctx context.Context, e journal.FailureEntry) error
}

// Options tunes the engine.
type Options struct {
	Provider provider.Provider

	// MaxHistoryRounds caps the history sent with each prompt. Zero means
	// prompt.DefaultMaxHistoryRounds.
	MaxHistoryRounds int
	// TokenBudget drops the oldest history rounds until the estimated
	// prompt size fits. Zero disables the check.
	TokenBudget int
	AutoFix     bool
	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int
	Language   language.Tag
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithSleep replaces the wait between retries. Tests use it to avoid
// real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

type Engine struct {
	transport Transport
	processor apierror.Processor
	opts      Options
	logger    *zap.Logger
	recorder  Recorder
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewEngine(t Transport, opts Options, o ...Option) *Engine {
	if opts.MaxHistoryRounds <= 0 {
		opts.MaxHistoryRounds = prompt.DefaultMaxHistoryRounds
	}
	if opts.Language == language.Und {
		opts.Language = language.Chinese
	}
	e := &Engine{
		transport: t,
		processor: apierror.New(opts.Provider, apierror.WithLanguage(opts.Language)),
		opts:      opts,
		logger:    zap.NewNop(),
		sleep:     sleepContext,
	}
	for _, fn := range o {
		fn(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Provider is the provider the engine talks to.
func (e *Engine) Provider() provider.Provider {
	return e.opts.Provider
}

// Turn is the result of one successful round.
type Turn struct {
	Round     int
	RequestID string
	Data      *models.ParsedGameData
	Parse     parser.Metadata

	PromptTokens  int
	HistoryRounds int
	Attempts      int
	Elapsed       time.Duration
}

// StartGame asks for the opening scene. The round is recorded as a system
// round, with no player input.
func (e *Engine) StartGame(ctx context.Context, s *models.GameSession) (*Turn, error) {
	return e.play(ctx, s, OpeningInput, "")
}

// PlayRound sends the player's action and applies the answer to s.
// s is only modified when the round succeeds.
func (e *Engine) PlayRound(ctx context.Context, s *models.GameSession, input string) (*Turn, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	return e.play(ctx, s, input, input)
}

// ResolveInput maps an option letter (a, B, ...) to that option's text.
// Anything else is returned trimmed, as free-form input.
func ResolveInput(options []models.Option, raw string) string {
	raw = strings.TrimSpace(raw)
	for _, o := range options {
		if strings.EqualFold(o.ID, raw) {
			return o.Text
		}
	}
	return raw
}

func (e *Engine) play(ctx context.Context, s *models.GameSession, promptInput, userInput string) (*Turn, error) {
	round := s.LastRound() + 1
	requestID := uuid.NewString()
	log := e.logger.With(
		zap.String("session", s.ID),
		zap.Int("round", round),
		zap.String("request", requestID),
		zap.String("provider", string(e.opts.Provider)),
	)
	failure := journal.FailureEntry{
		SessionID: s.ID,
		Round:     round,
		RequestID: requestID,
		Provider:  e.opts.Provider,
	}

	start := time.Now()
	history := recent(s.History, e.opts.MaxHistoryRounds)
	for attempt := 1; ; attempt++ {
		built, kept := e.buildPrompt(s, promptInput, history)
		if !built.OK() {
			return nil, fmt.Errorf("round %d: %w", round, built.Err)
		}
		history = kept
		if e.opts.TokenBudget > 0 && built.Metadata.EstimatedTokens > e.opts.TokenBudget {
			log.Warn("prompt exceeds token budget without history",
				zap.Int("tokens", built.Metadata.EstimatedTokens),
				zap.Int("budget", e.opts.TokenBudget))
		}

		raw, err := e.transport.Complete(ctx, built.Prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("round %d: %w", round, ctx.Err())
			}
			rec := e.processor.Process(err)
			e.recordFailure(ctx, log, providerFailure(failure, rec))
			if attempt > e.opts.MaxRetries {
				return nil, fmt.Errorf("round %d: %w", round, rec)
			}
			switch {
			case rec.Code == apierror.CodeContextTooLong && len(history) > 0:
				history = history[len(history)-len(history)/2:]
				continue
			case rec.Retryable:
				wait := rec.RetryAfter()
				if wait <= 0 {
					wait = defaultRetryWait
				}
				log.Info("retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait))
				if err := e.sleep(ctx, wait); err != nil {
					return nil, fmt.Errorf("round %d: %w", round, err)
				}
				continue
			}
			return nil, fmt.Errorf("round %d: %w", round, rec)
		}

		res := parser.Parse(parser.Options{
			Provider:      e.opts.Provider,
			RawResponse:   raw,
			EnableAutoFix: e.opts.AutoFix,
		})
		if !res.OK() {
			perr := res.Err
			if errors.Is(perr, parser.ErrSafetyBlocked) {
				rec := e.processor.Process(&apierror.Envelope{Error: &apierror.ErrorBody{
					Code:    apierror.Text("content_filter"),
					Message: perr.Message,
				}})
				e.recordFailure(ctx, log, providerFailure(failure, rec))
				return nil, fmt.Errorf("round %d: %w", round, rec)
			}
			e.recordFailure(ctx, log, parseFailure(failure, perr))
			if attempt > e.opts.MaxRetries {
				return nil, fmt.Errorf("round %d: %w", round, perr)
			}
			continue
		}

		turn := &Turn{
			Round:         round,
			RequestID:     requestID,
			Data:          res.Data,
			Parse:         res.Metadata,
			PromptTokens:  built.Metadata.EstimatedTokens,
			HistoryRounds: len(history),
			Attempts:      attempt,
			Elapsed:       time.Since(start),
		}
		e.apply(s, turn, userInput)
		log.Info("round complete",
			zap.String("method", string(res.Metadata.Method)),
			zap.Bool("auto_fixed", res.Metadata.AutoFixed),
			zap.Int("attempts", attempt),
			zap.Int("prompt_tokens", turn.PromptTokens),
			zap.Duration("elapsed", turn.Elapsed))
		e.recordRound(ctx, log, s.ID, turn)
		return turn, nil
	}
}

// buildPrompt drops the oldest history rounds until the prompt fits the
// token budget or no history is left.
func (e *Engine) buildPrompt(s *models.GameSession, input string, history []models.GameRound) (*prompt.Result, []models.GameRound) {
	for {
		res := prompt.Build(prompt.Options{
			World:            s.Scenario.World,
			Status:           s.Scenario.Status,
			Extensions:       s.Scenario.Extensions,
			State:            s.State,
			UserInput:        input,
			History:          history,
			MaxHistoryRounds: e.opts.MaxHistoryRounds,
			Provider:         e.opts.Provider,
		})
		if !res.OK() || e.opts.TokenBudget <= 0 || len(history) == 0 ||
			res.Metadata.EstimatedTokens <= e.opts.TokenBudget {
			return res, history
		}
		history = history[1:]
	}
}

func recent(history []models.GameRound, n int) []models.GameRound {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

func (e *Engine) apply(s *models.GameSession, turn *Turn, userInput string) {
	s.State = ApplyDelta(s.State, s.Scenario.Extensions, turn.Data)
	s.Options = append([]models.Option(nil), turn.Data.Options...)
	s.History = append(s.History, models.GameRound{
		Round:     turn.Round,
		UserInput: userInput,
		Response: models.RoundResponse{
			Scene:     turn.Data.Scene,
			Narration: turn.Data.Narration,
			Options:   s.Options,
		},
	})
}

func providerFailure(base journal.FailureEntry, rec *apierror.Record) journal.FailureEntry {
	base.Kind = journal.KindProvider
	base.Code = string(rec.Code)
	base.Severity = string(rec.Severity)
	base.Retryable = rec.Retryable
	base.Recovery = string(rec.Recovery)
	base.ProviderCode = rec.Context.ProviderCode
	base.ProviderStatus = rec.Context.ProviderStatus
	base.Message = rec.Message
	return base
}

func parseFailure(base journal.FailureEntry, perr *parser.ParseError) journal.FailureEntry {
	base.Kind = journal.KindParse
	base.Phase = string(perr.Phase)
	base.Message = perr.Message
	return base
}

func (e *Engine) recordFailure(ctx context.Context, log *zap.Logger, f journal.FailureEntry) {
	log.Warn("round attempt failed",
		zap.String("kind", f.Kind),
		zap.String("code", f.Code),
		zap.String("phase", f.Phase),
		zap.Bool("retryable", f.Retryable),
		zap.String("message", f.Message))
	if e.recorder == nil {
		return
	}
	f.At = time.Now()
	if err := e.recorder.RecordFailure(context.WithoutCancel(ctx), f); err != nil {
		log.Error("failed to record failure", zap.Error(err))
	}
}

func (e *Engine) recordRound(ctx context.Context, log *zap.Logger, sessionID string, t *Turn) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.RecordRound(context.WithoutCancel(ctx), journal.RoundEntry{
		SessionID:       sessionID,
		Round:           t.Round,
		RequestID:       t.RequestID,
		Provider:        e.opts.Provider,
		Method:          string(t.Parse.Method),
		Envelope:        t.Parse.Envelope,
		AutoFixed:       t.Parse.AutoFixed,
		RawLength:       t.Parse.RawLength,
		ExtractedLength: t.Parse.ExtractedLength,
		PromptTokens:    t.PromptTokens,
		HistoryRounds:   t.HistoryRounds,
		Attempts:        t.Attempts,
		Elapsed:         t.Elapsed,
		At:              time.Now(),
	})
	if err != nil {
		log.Error("failed to record round", zap.Error(err))
	}
}
