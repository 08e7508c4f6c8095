package resolve

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dativo-io/dcpguard/internal/dcp"
	"github.com/dativo-io/dcpguard/patterns"
)

// Priorities holds the hand-tuned tables the resolver uses to pick a winner
// between overlapping spans. They are configuration data, loaded from the
// embedded priorities.yaml and optionally overridden by an operator file.
type Priorities struct {
	Labels               map[dcp.Label]int `yaml:"labels"`
	Detectors            map[string]int    `yaml:"detectors"`
	Default              int               `yaml:"default"`
	FalsePositiveSources []string          `yaml:"false_positive_sources"`
}

// Label returns the priority of l, or the default for unknown labels.
func (p *Priorities) Label(l dcp.Label) int {
	if v, ok := p.Labels[l]; ok {
		return v
	}
	return p.Default
}

// Detector returns the priority of a detector name, or the default.
func (p *Priorities) Detector(source string) int {
	if v, ok := p.Detectors[source]; ok {
		return v
	}
	return p.Default
}

func (p *Priorities) isFalsePositiveSource(source string) bool {
	for _, s := range p.FalsePositiveSources {
		if s == source {
			return true
		}
	}
	return false
}

// ParsePriorities parses priority YAML.
func ParsePriorities(data []byte) (*Priorities, error) {
	var p Priorities
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing priorities YAML: %w", err)
	}
	for l := range p.Labels {
		if !l.Valid() {
			return nil, fmt.Errorf("priorities: unknown label %q", l)
		}
	}
	if p.Labels == nil {
		p.Labels = map[dcp.Label]int{}
	}
	if p.Detectors == nil {
		p.Detectors = map[string]int{}
	}
	return &p, nil
}

// DefaultPriorities returns the embedded tables.
func DefaultPriorities() (*Priorities, error) {
	return ParsePriorities(patterns.PrioritiesYAML())
}

// MustDefaultPriorities is like DefaultPriorities but panics on error. The
// embedded file is expected to always parse.
func MustDefaultPriorities() *Priorities {
	p, err := DefaultPriorities()
	if err != nil {
		panic(fmt.Sprintf("resolve.DefaultPriorities: %v", err))
	}
	return p
}

// LoadPriorities layers an operator file over the embedded defaults. Entries
// present in the file replace the default value for that key; keys absent from
// the file keep their default. A missing file is not an error.
func LoadPriorities(path string) (*Priorities, error) {
	base, err := DefaultPriorities()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, fmt.Errorf("reading priorities file %s: %w", path, err)
	}
	override, err := ParsePriorities(data)
	if err != nil {
		return nil, err
	}
	for l, v := range override.Labels {
		base.Labels[l] = v
	}
	for d, v := range override.Detectors {
		base.Detectors[d] = v
	}
	if override.Default != 0 {
		base.Default = override.Default
	}
	if override.FalsePositiveSources != nil {
		base.FalsePositiveSources = override.FalsePositiveSources
	}
	return base, nil
}
