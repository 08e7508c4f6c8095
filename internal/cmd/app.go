package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/dcpguard/internal/anonymize"
	"github.com/dativo-io/dcpguard/internal/config"
	"github.com/dativo-io/dcpguard/internal/connector"
	"github.com/dativo-io/dcpguard/internal/detector"
	"github.com/dativo-io/dcpguard/internal/detector/builtin"
	"github.com/dativo-io/dcpguard/internal/resolve"
	"github.com/dativo-io/dcpguard/internal/scan"
)

// app bundles the components shared by the detection commands and serve.
type app struct {
	cfg        *config.Config
	runner     *detector.Runner
	anonymizer *anonymize.Anonymizer
	connectors *connector.Router
	scanner    *scan.Scanner
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newApp(cfg)
}

func newApp(cfg *config.Config) (*app, error) {
	prio, err := resolve.LoadPriorities(cfg.PrioritiesFile)
	if err != nil {
		return nil, fmt.Errorf("loading priorities: %w", err)
	}
	runner := detector.NewRunner(builtin.NewRegistry(cfg.DetectorConfig()), resolve.New(prio))

	router := connector.NewRouter()
	router.Handle("file", connector.NewFilesystem())
	if cfg.S3.Enabled() {
		s3, err := connector.NewS3(connector.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring s3 connector: %w", err)
		}
		router.Handle("s3", s3)
		log.Debug().Str("endpoint", cfg.S3.Endpoint).Msg("s3_connector_enabled")
	}

	return &app{
		cfg:        cfg,
		runner:     runner,
		anonymizer: anonymize.New(cfg.AnonymizeSalt),
		connectors: router,
		scanner:    scan.New(router, runner, 0),
	}, nil
}
