// Package builtin registers the detectors shipped with dcpguard.
package builtin

import (
	"net/http"
	"time"

	"github.com/dativo-io/dcpguard/internal/detector"
	"github.com/dativo-io/dcpguard/internal/detector/regex"
	"github.com/dativo-io/dcpguard/internal/detector/remote"
)

// Config holds the locations of the shipped detectors. Empty URLs leave the
// matching detector registered but unavailable: constructing it fails.
type Config struct {
	PatternFile string
	PresidioURL string
	SpacyURL    string
	HFURL       string
	Timeout     time.Duration
}

// Names lists the shipped detectors in their default run order.
var Names = []string{regex.Name, remote.PresidioName, remote.SpacyName, remote.HFName}

// Register adds every shipped detector to reg.
func Register(reg *detector.Registry, cfg Config) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = remote.DefaultTimeout
	}
	client := remote.WithHTTPClient(&http.Client{Timeout: timeout})

	var regexOpts []regex.Option
	if cfg.PatternFile != "" {
		regexOpts = append(regexOpts, regex.WithPatternFile(cfg.PatternFile))
	}
	reg.Register(regex.Name, regex.Factory(regexOpts...))
	reg.Register(remote.PresidioName, remote.PresidioFactory(cfg.PresidioURL, client))
	reg.Register(remote.SpacyName, remote.NERFactory(remote.SpacyName, cfg.SpacyURL, client))
	reg.Register(remote.HFName, remote.NERFactory(remote.HFName, cfg.HFURL, client))
}

// NewRegistry returns a registry holding every shipped detector.
func NewRegistry(cfg Config) *detector.Registry {
	reg := detector.NewRegistry()
	Register(reg, cfg)
	return reg
}
