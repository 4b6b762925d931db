package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tatianab/story-loop/internal/config"
	"github.com/tatianab/story-loop/internal/engine"
	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/prompt"
)

type promptFlags struct {
	scenario string
	session  string
	provider string
	input    string
	history  int
	meta     bool
}

func newPromptCommand() *cobra.Command {
	var f promptFlags
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the prompt for a scenario or saved session",
		Long: `Builds the prompt the game would send next and prints it.

With --session the saved state and history are used, otherwise the
scenario's initial state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrompt(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.scenario, "scenario", "", "scenario YAML file (default: SCENARIO_FILE or built-in)")
	cmd.Flags().StringVar(&f.session, "session", "", "saved session name under SAVE_DIR")
	cmd.Flags().StringVar(&f.provider, "provider", "", "provider appendix to use (default: AI_PROVIDER)")
	cmd.Flags().StringVar(&f.input, "input", engine.OpeningInput, "player action")
	cmd.Flags().IntVar(&f.history, "history", 0, "history rounds to include (default: MAX_HISTORY_ROUNDS)")
	cmd.Flags().BoolVar(&f.meta, "meta", false, "print section sizes and token estimate after the prompt")
	return cmd
}

func runPrompt(cmd *cobra.Command, f promptFlags) error {
	cfg, err := config.LoadOffline()
	if err != nil {
		return err
	}
	p, err := providerFlag(f.provider, cfg)
	if err != nil {
		return err
	}

	var session *models.GameSession
	if f.session != "" {
		session, err = models.LoadSession(cfg.SaveDir, f.session)
		if err != nil {
			return fmt.Errorf("load session %q: %w", f.session, err)
		}
	} else {
		sc, err := loadScenario(f.scenario, cfg)
		if err != nil {
			return err
		}
		session = models.NewSession(sc)
	}

	maxRounds := f.history
	if maxRounds <= 0 {
		maxRounds = cfg.MaxHistoryRounds
	}
	res := prompt.Build(prompt.Options{
		World:            session.Scenario.World,
		Status:           session.Scenario.Status,
		Extensions:       session.Scenario.Extensions,
		State:            session.State,
		UserInput:        f.input,
		History:          session.History,
		MaxHistoryRounds: maxRounds,
		Provider:         p,
	})
	if !res.OK() {
		return res.Err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Prompt)
	if f.meta {
		fmt.Fprintln(out)
		fmt.Fprintln(out, strings.Repeat("-", 40))
		for _, name := range res.Metadata.Order {
			fmt.Fprintf(out, "%-12s %6d chars\n", name, res.Metadata.Sections[name])
		}
		fmt.Fprintf(out, "%-12s %6d chars\n", "total", res.Metadata.Length)
		fmt.Fprintf(out, "%-12s %6d\n", "tokens", res.Metadata.EstimatedTokens)
	}
	return nil
}
