package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dativo-io/dcpguard/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage dcpguard configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		renderConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// renderConfig prints the resolved configuration. Key material is never
// printed, only whether it was set explicitly.
func renderConfig(w io.Writer, cfg *config.Config) {
	dirState := "missing"
	if _, err := os.Stat(cfg.DataDir); err == nil {
		dirState = "exists"
	}
	keyState := "set"
	if cfg.UsingDefaultSigningKey() {
		keyState = "derived default (set DCP_SIGNING_KEY)"
	}
	endpoint := func(url string) string {
		if url == "" {
			return "(not configured)"
		}
		return url
	}

	fmt.Fprintf(w, "Data directory:    %s (%s)\n", cfg.DataDir, dirState)
	fmt.Fprintf(w, "Jobs DB:           %s\n", cfg.JobsDBPath())
	fmt.Fprintf(w, "Signing key:       %s\n", keyState)
	fmt.Fprintf(w, "Workers:           %d (queue %d)\n", cfg.Workers, cfg.QueueSize)
	fmt.Fprintf(w, "Default language:  %s\n", cfg.DefaultLanguage)
	fmt.Fprintf(w, "Default detectors: %s\n", strings.Join(cfg.DefaultDetectors, ", "))
	fmt.Fprintf(w, "Default min score: %.2f\n", cfg.DefaultMinScore)
	fmt.Fprintf(w, "Presidio:          %s\n", endpoint(cfg.PresidioURL))
	fmt.Fprintf(w, "spaCy NER:         %s\n", endpoint(cfg.SpacyURL))
	fmt.Fprintf(w, "HF NER:            %s\n", endpoint(cfg.HFURL))
	fmt.Fprintf(w, "S3:                %s\n", endpoint(cfg.S3.Endpoint))
	fmt.Fprintf(w, "API keys:          %d\n", len(cfg.APIKeys))
	fmt.Fprintf(w, "Job retention:     %s (%s)\n", cfg.JobRetention, cfg.RetentionSchedule)
}
