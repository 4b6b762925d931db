package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tatianab/story-loop/internal/config"
	"github.com/tatianab/story-loop/internal/parser"
	"github.com/tatianab/story-loop/internal/provider"
)

type parseFlags struct {
	provider  string
	noAutoFix bool
	envelope  bool
	json      bool
}

func newParseCommand() *cobra.Command {
	var f parseFlags
	cmd := &cobra.Command{
		Use:   "parse [file...]",
		Short: "Parse saved AI answers and report how they were understood",
		Long: `Runs the response parser over each file ("-" reads stdin) and prints
the extraction method, whether auto-fix was needed, or the failure.

With --envelope an HTTP response body (OpenAI-compatible or Gemini) is
unwrapped first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.provider, "provider", "", "provider that produced the answers (default: AI_PROVIDER)")
	cmd.Flags().BoolVar(&f.noAutoFix, "no-autofix", false, "disable JSON repair")
	cmd.Flags().BoolVar(&f.envelope, "envelope", false, "unwrap an HTTP response body first")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the parsed game data")
	return cmd
}

type parseOutcome struct {
	name   string
	format string
	res    *parser.Result
}

func runParse(cmd *cobra.Command, args []string, f parseFlags) error {
	cfg, err := config.LoadOffline()
	if err != nil {
		return err
	}
	p, err := providerFlag(f.provider, cfg)
	if err != nil {
		return err
	}
	autoFix := cfg.AutoFix && !f.noAutoFix

	outcomes := make([]parseOutcome, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(runtime.NumCPU())
	for i, name := range args {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := readInput(cmd.InOrStdin(), name)
			if err != nil {
				return err
			}
			outcomes[i] = parseOne(name, data, p, autoFix, f.envelope)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, o := range outcomes {
		if !o.res.OK() {
			failed++
			fmt.Fprintf(out, "%s: %v\n", o.name, o.res.Err)
			for _, issue := range o.res.Err.Issues {
				fmt.Fprintf(out, "    %s\n", issue)
			}
			continue
		}
		m := o.res.Metadata
		fmt.Fprintf(out, "%s: ok method=%s auto_fixed=%t raw=%d extracted=%d", o.name, m.Method, m.AutoFixed, m.RawLength, m.ExtractedLength)
		if m.Envelope != "" {
			fmt.Fprintf(out, " envelope=%s", m.Envelope)
		}
		if o.format != "" {
			fmt.Fprintf(out, " http=%s", o.format)
		}
		fmt.Fprintln(out)
		if f.json {
			b, err := json.MarshalIndent(o.res.Data, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d answers failed to parse", failed, len(outcomes))
	}
	return nil
}

func parseOne(name string, data []byte, p provider.Provider, autoFix, envelope bool) parseOutcome {
	raw := string(data)
	var format string
	if envelope {
		if text, f := parser.Unwrap(data); f != "" {
			raw, format = text, f
		}
	}
	return parseOutcome{
		name:   name,
		format: format,
		res: parser.Parse(parser.Options{
			Provider:      p,
			RawResponse:   raw,
			EnableAutoFix: autoFix,
		}),
	}
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
