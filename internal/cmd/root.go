package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dativo-io/dcpguard/internal/config"
	"github.com/dativo-io/dcpguard/internal/otel"
)

// Version info injected via ldflags at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var tracer = otel.Tracer("github.com/dativo-io/dcpguard/internal/cmd")

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
	otelFlag  bool

	otelShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "dcpguard",
	Short: "Detect and anonymize personal data in text",
	Long: `dcpguard finds personal data (DCP) in text by running an ensemble of
detectors and reconciling their findings into one non-overlapping set of spans.

Detectors: regex (built in), presidio, spacy and hf (HTTP sidecars).
Anonymization strategies: mask, redact, hash.
Long running bench and scan pipelines run as tracked jobs under "serve".`,
	SilenceUsage:      true,
	PersistentPreRunE: preRun,
}

func preRun(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd.ErrOrStderr(), logFormat)
	if err != nil {
		return err
	}
	log.Logger = logger
	zerolog.SetGlobalLevel(effectiveLevel())

	shutdown, err := otel.Setup(otel.Options{
		ServiceName: "dcpguard",
		Version:     resolvedVersion(),
		Enabled:     otelFlag || verbose || os.Getenv("DCP_OTEL_ENABLED") == "true",
		Writer:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initializing OpenTelemetry: %w", err)
	}
	otelShutdown = shutdown
	return nil
}

// newLogger builds the process logger. Logs always go to w (stderr) so
// stdout carries only command output, e.g. dcpguard detect --json | jq.
func newLogger(w io.Writer, format string) (zerolog.Logger, error) {
	switch format {
	case "json":
		return zerolog.New(w).With().Timestamp().Logger(), nil
	case "console", "":
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger(), nil
	}
	return zerolog.Logger{}, fmt.Errorf("unknown log format %q (console, json)", format)
}

// effectiveLevel resolves --log-level, with -v forcing debug.
func effectiveLevel() zerolog.Level {
	if verbose {
		return zerolog.DebugLevel
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// resolvedVersion prefers the ldflags version, then the module version that
// go install records (dcpguard@v0.3.1), then "dev".
func resolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./dcpguard.config.yaml, then ~/.dcpguard/)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging and tracing")
	flags.StringVar(&logLevel, "log-level", envOr("DCP_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", envOr("DCP_LOG_FORMAT", "console"), "log format (console, json)")
	flags.BoolVar(&otelFlag, "otel", false, "export traces and metrics to stderr")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// initConfig loads .env, then the optional YAML file, on top of the defaults.
// A missing config file is not an error.
func initConfig() {
	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg("dotenv_load_failed")
	}
	config.SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("dcpguard.config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".dcpguard"))
		}
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || cfgFile != "" {
			log.Warn().Err(err).Msg("config_read_failed")
		}
		return
	}
	log.Debug().Str("file", viper.ConfigFileUsed()).Msg("config_loaded")
}

// Execute runs the root command and flushes telemetry on exit.
func Execute() error {
	err := rootCmd.Execute()
	if otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(ctx)
	}
	return err
}
