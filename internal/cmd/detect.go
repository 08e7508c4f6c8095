package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/dcpguard/internal/detector"
)

// detectFlags are shared by detect, anonymize and bench. Unset values fall
// back to the configured defaults.
type detectFlags struct {
	file      string
	language  string
	detectors []string
	minScore  float64
	jsonOut   bool
}

func (f *detectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read text from file")
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "text language (default from config)")
	cmd.Flags().StringSliceVarP(&f.detectors, "detectors", "d", nil, "detectors to run, in order (default from config)")
	cmd.Flags().Float64Var(&f.minScore, "min-score", 0, "minimum span score (default from config)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print JSON")
}

func (f *detectFlags) resolve(cmd *cobra.Command, a *app) (lang string, detectors []string, minScore float64) {
	lang, detectors, minScore = a.cfg.DefaultLanguage, a.cfg.DefaultDetectors, a.cfg.DefaultMinScore
	if f.language != "" {
		lang = f.language
	}
	if cmd.Flags().Changed("detectors") {
		detectors = f.detectors
	}
	if cmd.Flags().Changed("min-score") {
		minScore = f.minScore
	}
	return lang, detectors, minScore
}

var (
	detectOpts     detectFlags
	detectNoMerge  bool
	detectNoText   bool
	detectFailFast bool
)

var detectCmd = &cobra.Command{
	Use:   "detect [text...|-]",
	Short: "Detect personal data in text",
	RunE:  runDetect,
}

func init() {
	detectOpts.register(detectCmd)
	detectCmd.Flags().BoolVar(&detectNoMerge, "no-merge", false, "keep every detector's raw spans")
	detectCmd.Flags().BoolVar(&detectNoText, "no-text", false, "omit matched text from spans")
	detectCmd.Flags().BoolVar(&detectFailFast, "fail-fast", false, "abort on the first detector failure")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "detect")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	text, err := readInput(cmd, args, detectOpts.file)
	if err != nil {
		return err
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	lang, detectors, minScore := detectOpts.resolve(cmd, a)

	res, err := a.runner.Detect(ctx, detector.DetectRequest{
		Text:          text,
		Language:      lang,
		Detectors:     detectors,
		MinScore:      minScore,
		MergeOverlaps: !detectNoMerge,
		KeepText:      !detectNoText,
		BestEffort:    !detectFailFast,
	})
	if err != nil {
		return fmt.Errorf("detecting: %w", err)
	}

	out := cmd.OutOrStdout()
	if detectOpts.jsonOut {
		return printJSON(out, res)
	}
	renderSpans(out, res.Spans)
	fmt.Fprintln(out)
	renderSummary(out, res.Summary)
	renderErrors(out, res.Errors)
	return nil
}
