package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coolbeans/kakomon/pkg/gateway"
	"github.com/coolbeans/kakomon/pkg/pipeline"
	"github.com/coolbeans/kakomon/pkg/report"
	"github.com/coolbeans/kakomon/pkg/resolve"
	"github.com/coolbeans/kakomon/pkg/rules"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kakomon",
		Short: "Exam transcript analyzer",
		Long: `Kakomon extracts the question structure of OCR-scanned entrance
exam transcripts.

It detects section boundaries, extracts and renumbers questions,
classifies them into subject fields, attaches themes, and emits a
canonical report:

  ▼ 大問 1 [歴史] 次の文章を読んで、あとの問いに答えなさい。
    大問1-問1: 鎌倉幕府の成立 [歴史]

OCR damage (duplicate numbers, mangled markers, misplaced section
boundaries) is repaired heuristically; what could not be repaired is
listed as diagnostics.`,
		Version: version,
	}

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func analyzeCmd() *cobra.Command {
	var (
		asJSON     bool
		showStats  bool
		verbose    bool
		rulesPath  string
		gatewayURL string
		timeout    time.Duration
		gapAhead   int
		gapBehind  int
	)

	cmd := &cobra.Command{
		Use:   "analyze <transcript.txt>",
		Short: "Analyze an OCR transcript",
		Long: `Analyze an OCR exam transcript and print the canonical report.

Example:
  kakomon analyze exam2015.txt
  kakomon analyze exam2015.txt --rules corrections.yaml --stats
  kakomon analyze exam2015.txt --gateway http://localhost:8080/validate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read transcript: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if verbose {
				logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
			}

			opts := []pipeline.Option{
				pipeline.WithLogger(logger),
				pipeline.WithResolver(resolve.NewResolver(
					resolve.WithGapAhead(gapAhead),
					resolve.WithGapBehind(gapBehind),
				)),
			}
			if rulesPath != "" {
				set, err := rules.Load(rulesPath)
				if err != nil {
					return fmt.Errorf("failed to load rule tables: %w", err)
				}
				opts = append(opts, pipeline.WithRules(set))
			}
			if gatewayURL != "" {
				opts = append(opts, pipeline.WithGateway(gateway.New(gatewayURL,
					gateway.WithTimeout(timeout),
					gateway.WithLogger(logger),
				)))
			}

			catalog := pipeline.New(opts...).Analyze(cmd.Context(), string(data))

			if asJSON {
				out, err := json.MarshalIndent(catalog, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal catalog: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Print(report.Render(catalog))
			if len(catalog.Diagnostics) > 0 {
				fmt.Printf("\n診断 (%d):\n", len(catalog.Diagnostics))
				for _, d := range catalog.Diagnostics {
					fmt.Printf("  %s\n", d)
				}
			}
			if showStats {
				stats := catalog.Stats()
				fmt.Printf("\n分野別集計 (全%d問):\n", stats.Total)
				for f, n := range stats.Counts {
					fmt.Printf("  %s: %d問 (%.1f%%)\n", f, n, stats.Ratios[f]*100)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON instead of the report")
	cmd.Flags().BoolVar(&showStats, "stats", false, "Print per-field statistics")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Per-document correction rule tables (YAML)")
	cmd.Flags().StringVar(&gatewayURL, "gateway", "", "Advisory validation service URL")
	cmd.Flags().DurationVar(&timeout, "timeout", gateway.DefaultTimeout, "Validation call timeout")
	cmd.Flags().IntVar(&gapAhead, "gap-ahead", resolve.DefaultGapAhead, "Forward-move numbering threshold")
	cmd.Flags().IntVar(&gapBehind, "gap-behind", resolve.DefaultGapBehind, "Backward-move numbering threshold")

	return cmd
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <report.txt>",
		Short: "Re-parse and re-render a canonical report",
		Long: `Parse a previously emitted report and render it again, verifying
that the round trip is byte-identical. Useful for checking
hand-edited reports before feeding them back into other tools.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read report: %w", err)
			}
			catalog, err := report.Parse(string(data))
			if err != nil {
				return fmt.Errorf("invalid report: %w", err)
			}
			rendered := report.Render(catalog)
			fmt.Print(rendered)
			if rendered != string(data) {
				fmt.Fprintln(os.Stderr, "note: input was not in canonical form; output above is")
			}
			return nil
		},
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect per-document correction rule tables",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesCheckCmd())
	cmd.AddCommand(rulesFingerprintCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <rules.yaml>",
		Short: "List rule tables and their corrections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := rules.Load(args[0])
			if err != nil {
				return err
			}
			for _, t := range set.Tables() {
				fmt.Printf("%s  %s\n", t.Fingerprint, t.Name)
				fmt.Printf("  boundaries: %d, marker remaps: %d, drops: %d, field overrides: %d\n",
					len(t.ForceBoundaries), len(t.RemapMarkers), len(t.DropSpans), len(t.FieldOverrides))
			}
			return nil
		},
	}
}

func rulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <rules.yaml>",
		Short: "Validate a rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := rules.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("OK: %d rule tables\n", len(set.Tables()))
			return nil
		},
	}
}

func rulesFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <transcript.txt>",
		Short: "Print the fingerprint key for a transcript",
		Long: `Compute the fingerprint used to match a transcript against rule
tables. Paste the output into a table's fingerprint field.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read transcript: %w", err)
			}
			fmt.Println(rules.Fingerprint(string(data)))
			return nil
		},
	}
}
