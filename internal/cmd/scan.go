package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/dcpguard/internal/scan"
)

var (
	scanOpts      detectFlags
	scanRecursive bool
	scanLimit     int
)

var scanCmd = &cobra.Command{
	Use:   "scan <root>",
	Short: "Scan files under a directory or s3:// prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanOpts.register(scanCmd)
	scanCmd.Flags().BoolVarP(&scanRecursive, "recursive", "r", true, "descend into subdirectories")
	scanCmd.Flags().IntVar(&scanLimit, "limit", scan.DefaultLimit, "maximum resources to scan")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "scan")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	a, err := loadApp()
	if err != nil {
		return err
	}
	lang, detectors, minScore := scanOpts.resolve(cmd, a)

	report, err := a.scanner.Scan(ctx, scan.Request{
		Root:      args[0],
		Recursive: scanRecursive,
		Language:  lang,
		Detectors: detectors,
		MinScore:  minScore,
		Limit:     scanLimit,
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	if scanOpts.jsonOut {
		return printJSON(out, report)
	}
	fmt.Fprintf(out, "Scanned %d resource(s):\n\n", report.Scanned)
	for _, r := range report.Results {
		mark := "✓"
		if len(r.Errors) > 0 {
			mark = "!"
		}
		fmt.Fprintf(out, "  %s %s [%s] %d span(s)\n", mark, r.URI, r.Kind, r.Count)
	}
	fmt.Fprintln(out)
	renderSummary(out, report.Summary)
	return nil
}
