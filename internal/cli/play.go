package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tatianab/story-loop/internal/config"
	"github.com/tatianab/story-loop/internal/engine"
	"github.com/tatianab/story-loop/internal/journal"
	"github.com/tatianab/story-loop/internal/logging"
	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/provider"
	"github.com/tatianab/story-loop/internal/tui"
)

// PlayOptions selects the session to play.
type PlayOptions struct {
	// Resume names a saved session. Empty resumes the autosave if there is one.
	Resume string
	// Fresh ignores saved sessions.
	Fresh    bool
	Scenario string
}

// NewPlayCommand returns the command that runs the game client.
func NewPlayCommand() *cobra.Command {
	var opts PlayOptions
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play the game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Play(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Resume, "session", "", "saved session to resume (default: the autosave)")
	cmd.Flags().BoolVar(&opts.Fresh, "new", false, "start a new game")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "scenario YAML file for a new game")
	return cmd
}

// Play loads the configuration and runs the game client until the player
// quits.
func Play(ctx context.Context, opts PlayOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, _, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	eng, closeEngine, err := NewEngine(ctx, cfg, engine.WithLogger(logger), engine.WithRecorder(j))
	if err != nil {
		return err
	}
	defer closeEngine()

	session, err := openSession(cfg, opts)
	if err != nil {
		return err
	}
	logger.Info("game started",
		zap.String("session", session.ID),
		zap.String("scenario", session.Scenario.Title),
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.ModelName()),
		zap.Int("rounds", session.LastRound()))

	return tui.Run(eng, session, tui.Options{
		SaveDir:  cfg.SaveDir,
		Language: cfg.Language(),
		Logger:   logger,
	})
}

// NewTransport returns the transport for the configured provider. The
// returned function releases it.
func NewTransport(ctx context.Context, cfg *config.Config) (engine.Transport, func() error, error) {
	switch p := cfg.AIProvider(); p {
	case provider.Gemini:
		tr, err := engine.NewGeminiTransport(ctx, cfg.APIKey(), cfg.ModelName())
		if err != nil {
			return nil, nil, fmt.Errorf("create Gemini client: %w", err)
		}
		return tr, tr.Close, nil
	case provider.DeepSeek, provider.SiliconFlow:
		return engine.NewOpenAITransport(cfg.Endpoint(), cfg.APIKey(), cfg.ModelName()), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("no transport for provider %q", p)
	}
}

// NewEngine wires an engine for the configured provider.
func NewEngine(ctx context.Context, cfg *config.Config, opts ...engine.Option) (*engine.Engine, func() error, error) {
	tr, closeFn, err := NewTransport(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	eng := engine.NewEngine(tr, engine.Options{
		Provider:         cfg.AIProvider(),
		MaxHistoryRounds: cfg.MaxHistoryRounds,
		TokenBudget:      cfg.TokenBudget,
		AutoFix:          cfg.AutoFix,
		MaxRetries:       cfg.MaxRetries,
		Language:         cfg.Language(),
	}, opts...)
	return eng, closeFn, nil
}

func openSession(cfg *config.Config, opts PlayOptions) (*models.GameSession, error) {
	if !opts.Fresh {
		name := opts.Resume
		if name == "" {
			name = tui.AutosaveName
		}
		s, err := models.LoadSession(cfg.SaveDir, name)
		switch {
		case err == nil:
			return s, nil
		case opts.Resume != "" || !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("load session %q: %w", name, err)
		}
	}
	sc, err := loadScenario(opts.Scenario, cfg)
	if err != nil {
		return nil, err
	}
	return models.NewSession(sc), nil
}
