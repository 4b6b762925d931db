// Package cli is the story-loop command line: the game itself plus
// developer tools for inspecting prompts, AI answers and provider errors.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tatianab/story-loop/internal/config"
	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/provider"
)

// NewRootCommand returns the story-loop command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "story-loop",
		Short: "AI driven interactive fiction",
		Long: `story-loop plays interactive fiction with an AI game master.

Run without arguments to start the game. The other commands work offline
and help tune prompts and inspect provider answers.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Play(cmd.Context(), PlayOptions{})
		},
	}
	root.AddCommand(
		NewPlayCommand(),
		newPromptCommand(),
		newParseCommand(),
		newClassifyCommand(),
		newJournalCommand(),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// providerFlag resolves a --provider value, falling back to the configured one.
func providerFlag(value string, cfg *config.Config) (provider.Provider, error) {
	if value == "" {
		return cfg.AIProvider(), nil
	}
	return provider.Parse(value)
}

// loadScenario reads path, or the configured scenario file, or the
// built-in scenario.
func loadScenario(path string, cfg *config.Config) (models.Scenario, error) {
	if path == "" {
		path = cfg.ScenarioFile
	}
	if path == "" {
		return models.DefaultScenario()
	}
	return models.LoadScenario(path)
}
