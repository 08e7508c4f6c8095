// Package config holds operator-level configuration for a dcpguard
// installation: data directory, signing key, detector endpoints, worker
// pool sizing and API access.
//
// Values are resolved by viper from, in order of precedence, DCP_* env vars,
// a .env file in the working directory, dcpguard.config.yaml (./ or
// ~/.dcpguard) and the defaults below.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dativo-io/dcpguard/internal/cryptoutil"
	"github.com/dativo-io/dcpguard/internal/detector/builtin"
)

// EnvPrefix is prepended to every env var (data_dir → DCP_DATA_DIR).
const EnvPrefix = "DCP"

// Viper keys. Each maps to a DCP_ env var and a YAML field.
const (
	KeyDataDir           = "data_dir"
	KeySigningKey        = "signing_key"
	KeyAnonymizeSalt     = "anonymize_salt"
	KeyWorkers           = "workers"
	KeyQueueSize         = "queue_size"
	KeyDefaultMinScore   = "default_min_score"
	KeyDefaultLanguage   = "default_language"
	KeyDefaultDetectors  = "default_detectors"
	KeyPreloadDetectors  = "preload_detectors"
	KeyPresidioURL       = "presidio_url"
	KeySpacyURL          = "spacy_url"
	KeyHFURL             = "hf_url"
	KeyDetectorTimeout   = "detector_timeout"
	KeyAPIKeys           = "api_keys"
	KeyRateLimitRPM      = "rate_limit_rpm"
	KeyListenAddr        = "listen_addr"
	KeyJobRetention      = "job_retention"
	KeyRetentionSchedule = "retention_schedule"
	KeyPrioritiesFile    = "priorities_file"
	KeyPatternFile       = "pattern_file"
	KeyS3Endpoint        = "s3_endpoint"
	KeyS3AccessKey       = "s3_access_key"
	KeyS3SecretKey       = "s3_secret_key"
	KeyS3Region          = "s3_region"
	KeyS3UseSSL          = "s3_use_ssl"
)

// Defaults.
const (
	DefaultWorkers           = 2
	DefaultQueueSize         = 64
	DefaultMinScore          = 0.4
	DefaultLanguage          = "fr"
	DefaultRateLimitRPM      = 600
	DefaultListenAddr        = ":8080"
	DefaultJobRetention      = 24 * time.Hour
	DefaultRetentionSchedule = "@hourly"
	DefaultDetectorTimeout   = 10 * time.Second
)

// DefaultDetectors is the ensemble used when a request names none.
var DefaultDetectors = builtin.Names

// S3 locates the optional S3-compatible endpoint for scan jobs.
type S3 struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Enabled reports whether an endpoint is configured.
func (s S3) Enabled() bool {
	return s.Endpoint != ""
}

// Config holds resolved operator configuration.
type Config struct {
	DataDir           string
	SigningKey        string // HMAC-SHA256 key for job records (≥32 bytes)
	AnonymizeSalt     string // salt prefixed to hashed replacements
	Workers           int
	QueueSize         int
	DefaultMinScore   float64
	DefaultLanguage   string
	DefaultDetectors  []string
	PreloadDetectors  []string
	PresidioURL       string
	SpacyURL          string
	HFURL             string
	DetectorTimeout   time.Duration
	APIKeys           []string
	RateLimitRPM      int
	ListenAddr        string
	JobRetention      time.Duration
	RetentionSchedule string
	PrioritiesFile    string
	PatternFile       string
	S3                S3

	usingDefaultSigningKey bool
	usingDefaultSalt       bool
}

// UsingDefaultKeys reports whether the signing key or the salt was derived.
func (c *Config) UsingDefaultKeys() bool {
	return c.usingDefaultSigningKey || c.usingDefaultSalt
}

// UsingDefaultSigningKey reports whether the signing key was derived.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// JobsDBPath returns the path of the job record database.
func (c *Config) JobsDBPath() string {
	return filepath.Join(c.DataDir, "jobs.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// DetectorConfig returns the builtin detector settings.
func (c *Config) DetectorConfig() builtin.Config {
	return builtin.Config{
		PatternFile: c.PatternFile,
		PresidioURL: c.PresidioURL,
		SpacyURL:    c.SpacyURL,
		HFURL:       c.HFURL,
		Timeout:     c.DetectorTimeout,
	}
}

// WarnIfDefaultKeys logs a warning when key material was derived.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSigningKey {
		log.Warn().Msg("using derived default DCP_SIGNING_KEY; set it via env var or config file for production")
	}
	if c.usingDefaultSalt {
		log.Warn().Msg("using derived default DCP_ANONYMIZE_SALT; hashed replacements are predictable")
	}
}

// SetDefaults registers the default values with viper.
func SetDefaults() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault(KeyWorkers, DefaultWorkers)
	viper.SetDefault(KeyQueueSize, DefaultQueueSize)
	viper.SetDefault(KeyDefaultMinScore, DefaultMinScore)
	viper.SetDefault(KeyDefaultLanguage, DefaultLanguage)
	viper.SetDefault(KeyDefaultDetectors, DefaultDetectors)
	viper.SetDefault(KeyRateLimitRPM, DefaultRateLimitRPM)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyJobRetention, DefaultJobRetention)
	viper.SetDefault(KeyRetentionSchedule, DefaultRetentionSchedule)
	viper.SetDefault(KeyDetectorTimeout, DefaultDetectorTimeout)
	viper.SetDefault(KeyS3Region, "us-east-1")
}

func init() {
	SetDefaults()
}

// LoadDotEnv loads .env from the working directory into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading %s: %w", strings.Join(existing, ", "), err)
	}
	return nil
}

// Load reads configuration from viper and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:           resolveDataDir(),
		SigningKey:        viper.GetString(KeySigningKey),
		AnonymizeSalt:     viper.GetString(KeyAnonymizeSalt),
		Workers:           viper.GetInt(KeyWorkers),
		QueueSize:         viper.GetInt(KeyQueueSize),
		DefaultMinScore:   viper.GetFloat64(KeyDefaultMinScore),
		DefaultLanguage:   viper.GetString(KeyDefaultLanguage),
		DefaultDetectors:  stringSlice(KeyDefaultDetectors),
		PreloadDetectors:  stringSlice(KeyPreloadDetectors),
		PresidioURL:       viper.GetString(KeyPresidioURL),
		SpacyURL:          viper.GetString(KeySpacyURL),
		HFURL:             viper.GetString(KeyHFURL),
		DetectorTimeout:   viper.GetDuration(KeyDetectorTimeout),
		APIKeys:           stringSlice(KeyAPIKeys),
		RateLimitRPM:      viper.GetInt(KeyRateLimitRPM),
		ListenAddr:        viper.GetString(KeyListenAddr),
		JobRetention:      viper.GetDuration(KeyJobRetention),
		RetentionSchedule: viper.GetString(KeyRetentionSchedule),
		PrioritiesFile:    viper.GetString(KeyPrioritiesFile),
		PatternFile:       viper.GetString(KeyPatternFile),
		S3: S3{
			Endpoint:  viper.GetString(KeyS3Endpoint),
			AccessKey: viper.GetString(KeyS3AccessKey),
			SecretKey: viper.GetString(KeyS3SecretKey),
			Region:    viper.GetString(KeyS3Region),
			UseSSL:    viper.GetBool(KeyS3UseSSL),
		},
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = cryptoutil.DeriveKey(cfg.DataDir, "job-signing")
		cfg.usingDefaultSigningKey = true
	}
	if cfg.AnonymizeSalt == "" {
		cfg.AnonymizeSalt = cryptoutil.DeriveKey(cfg.DataDir, "anonymize-salt")[:16]
		cfg.usingDefaultSalt = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// stringSlice reads a list that may come from YAML (a sequence) or from an
// env var (comma separated).
func stringSlice(key string) []string {
	var out []string
	for _, v := range viper.GetStringSlice(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dcpguard"
	}
	return filepath.Join(home, ".dcpguard")
}

func (c *Config) validate() error {
	if _, err := cryptoutil.KeyBytes(c.SigningKey); err != nil {
		return fmt.Errorf("signing_key: %w; set DCP_SIGNING_KEY", err)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.DefaultMinScore < 0 || c.DefaultMinScore > 1 {
		return fmt.Errorf("default_min_score must be within [0,1], got %v", c.DefaultMinScore)
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("rate_limit_rpm must not be negative")
	}
	if c.JobRetention <= 0 {
		return fmt.Errorf("job_retention must be positive")
	}
	if c.DetectorTimeout <= 0 {
		return fmt.Errorf("detector_timeout must be positive")
	}
	known := make(map[string]bool, len(builtin.Names))
	for _, n := range builtin.Names {
		known[n] = true
	}
	for _, list := range [][]string{c.DefaultDetectors, c.PreloadDetectors} {
		for _, n := range list {
			if !known[n] {
				return fmt.Errorf("unknown detector %q (known: %s)", n, strings.Join(builtin.Names, ", "))
			}
		}
	}
	return nil
}
