package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/dcpguard/internal/detector"
)

var benchOpts detectFlags

var benchCmd = &cobra.Command{
	Use:   "bench [text...|-]",
	Short: "Time each detector independently over the same text",
	RunE:  runBench,
}

func init() {
	benchOpts.register(benchCmd)
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "bench")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	text, err := readInput(cmd, args, benchOpts.file)
	if err != nil {
		return err
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	lang, detectors, minScore := benchOpts.resolve(cmd, a)

	report := a.runner.Bench(ctx, detector.BenchRequest{
		Text:      text,
		Language:  lang,
		Detectors: detectors,
		MinScore:  minScore,
	})
	if benchOpts.jsonOut {
		return printJSON(cmd.OutOrStdout(), report)
	}
	renderBench(cmd.OutOrStdout(), report)
	return nil
}

// renderBench writes one line per detector sorted by name (testable).
func renderBench(w io.Writer, report detector.BenchReport) {
	names := make([]string, 0, len(report))
	for n := range report {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		e := report[n]
		if !e.OK {
			msg := ""
			if e.Error != nil {
				msg = *e.Error
			}
			fmt.Fprintf(w, "  ✗ %-9s %9.2fms  %s\n", n, e.TimeMS, msg)
			continue
		}
		fmt.Fprintf(w, "  ✓ %-9s %9.2fms  %d entities\n", n, e.TimeMS, e.Entities)
	}
}
