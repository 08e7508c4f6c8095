package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/dcpguard/internal/anonymize"
	"github.com/dativo-io/dcpguard/internal/detector"
)

var (
	anonymizeOpts     detectFlags
	anonymizeStrategy string
)

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize [text...|-]",
	Short: "Replace personal data in text (mask, redact or hash)",
	RunE:  runAnonymize,
}

func init() {
	anonymizeOpts.register(anonymizeCmd)
	anonymizeCmd.Flags().StringVarP(&anonymizeStrategy, "strategy", "s", string(anonymize.StrategyRedact), "mask, redact or hash")
	rootCmd.AddCommand(anonymizeCmd)
}

func runAnonymize(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "anonymize")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	strategy, err := anonymize.ParseStrategy(anonymizeStrategy)
	if err != nil {
		return err
	}
	text, err := readInput(cmd, args, anonymizeOpts.file)
	if err != nil {
		return err
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	lang, detectors, minScore := anonymizeOpts.resolve(cmd, a)

	res, err := a.runner.Detect(ctx, detector.DetectRequest{
		Text:          text,
		Language:      lang,
		Detectors:     detectors,
		MinScore:      minScore,
		MergeOverlaps: true,
		KeepText:      true,
		BestEffort:    true,
	})
	if err != nil {
		return fmt.Errorf("detecting: %w", err)
	}
	anonymized, err := a.anonymizer.Anonymize(text, res.Spans, strategy)
	if err != nil {
		return fmt.Errorf("anonymizing: %w", err)
	}

	out := cmd.OutOrStdout()
	if anonymizeOpts.jsonOut {
		return printJSON(out, map[string]any{
			"anonymized_text": anonymized,
			"spans":           res.Spans,
			"summary":         res.Summary,
		})
	}
	fmt.Fprintln(out, anonymized)
	renderErrors(cmd.ErrOrStderr(), res.Errors)
	return nil
}
