package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tatianab/story-loop/internal/config"
	"github.com/tatianab/story-loop/internal/journal"
)

func newJournalCommand() *cobra.Command {
	var path, session string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Summarize the round journal",
		Long: `Prints how AI answers were extracted and which failures occurred.
With --session the rounds and failures of one session are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOffline()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.JournalPath
			}
			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			out := cmd.OutOrStdout()
			if session != "" {
				return printSession(cmd, out, j, session)
			}
			stats, err := j.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(out, stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "journal database (default: JOURNAL_PATH)")
	cmd.Flags().StringVar(&session, "session", "", "session id to list")
	return cmd
}

func printStats(out io.Writer, s journal.Stats) {
	fmt.Fprintf(out, "rounds: %d (auto-fixed %d)\n", s.Rounds, s.AutoFixed)
	fmt.Fprintln(out, "methods:")
	printCounts(out, s.Methods)
	fmt.Fprintln(out, "failures:")
	printCounts(out, s.Failures)
}

func printCounts(out io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-24s %d\n", k, counts[k])
	}
}

func printSession(cmd *cobra.Command, out io.Writer, j *journal.Journal, session string) error {
	rounds, err := j.Rounds(cmd.Context(), session)
	if err != nil {
		return err
	}
	failures, err := j.Failures(cmd.Context(), session)
	if err != nil {
		return err
	}
	for _, r := range rounds {
		fmt.Fprintf(out, "round %d: %s attempts=%d auto_fixed=%t tokens=%d history=%d elapsed=%s\n",
			r.Round, r.Method, r.Attempts, r.AutoFixed, r.PromptTokens, r.HistoryRounds, r.Elapsed)
	}
	for _, f := range failures {
		what := f.Code
		if what == "" {
			what = f.Phase
		}
		fmt.Fprintf(out, "round %d failed: %s %s: %s\n", f.Round, f.Kind, what, f.Message)
	}
	return nil
}
