package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dativo-io/dcpguard/internal/detector"
)

var detectorsCmd = &cobra.Command{
	Use:   "detectors",
	Short: "List and warm up detectors",
}

var detectorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered detectors",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "detectors.list")
		defer span.End()

		a, err := loadApp()
		if err != nil {
			return err
		}
		for _, name := range a.runner.Registry().ListAvailable() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var detectorsWarmupCmd = &cobra.Command{
	Use:   "warmup [detector...]",
	Short: "Construct detectors and report which are usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "detectors.warmup")
		defer span.End()
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		a, err := loadApp()
		if err != nil {
			return err
		}
		status := a.runner.Registry().Warmup(ctx, args)
		names := make([]string, 0, len(status))
		for n := range status {
			names = append(names, n)
		}
		sort.Strings(names)
		failed := 0
		for _, n := range names {
			mark := "✓"
			if status[n] != detector.WarmupOK {
				mark = "✗"
				failed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %-9s %s\n", mark, n, status[n])
		}
		if failed > 0 && len(args) > 0 {
			return fmt.Errorf("%d detector(s) failed to warm up", failed)
		}
		return nil
	},
}

func init() {
	detectorsCmd.AddCommand(detectorsListCmd)
	detectorsCmd.AddCommand(detectorsWarmupCmd)
	rootCmd.AddCommand(detectorsCmd)
}
