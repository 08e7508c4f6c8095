package regex

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dativo-io/dcpguard/internal/dcp"
	"github.com/dativo-io/dcpguard/patterns"
)

// RecognizerFile is the top-level YAML structure of a recognizer config file.
// It follows Presidio's recognizer registry format.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// RecognizerConfig is one named recognizer. Presidio fields are kept as-is;
// Label and Validate are dcpguard extensions.
type RecognizerConfig struct {
	Name               string            `yaml:"name" json:"name"`
	SupportedEntity    string            `yaml:"supported_entity" json:"supported_entity"`
	Label              string            `yaml:"label" json:"label"`
	Enabled            *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Validate           string            `yaml:"validate,omitempty" json:"validate,omitempty"`
	Patterns           []PatternConfig   `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	SupportedLanguages []LanguageContext `yaml:"supported_languages,omitempty" json:"supported_languages,omitempty"`
}

// PatternConfig is a single regex within a recognizer.
type PatternConfig struct {
	Name  string  `yaml:"name" json:"name"`
	Regex string  `yaml:"regex" json:"regex"`
	Score float64 `yaml:"score" json:"score"`
}

// LanguageContext holds context words for one language.
type LanguageContext struct {
	Language string   `yaml:"language" json:"language"`
	Context  []string `yaml:"context,omitempty" json:"context,omitempty"`
}

func (r *RecognizerConfig) isEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Validation gates.
const (
	ValidateIBAN = "iban"
	ValidateLuhn = "luhn"
)

// ParseRecognizerFile parses recognizer YAML.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	return &rf, nil
}

// LoadRecognizerFile reads a recognizer file from disk. A missing file yields
// nil and no error.
func LoadRecognizerFile(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file %s: %w", path, err)
	}
	return ParseRecognizerFile(data)
}

// DefaultRecognizers returns the embedded recognizer set.
func DefaultRecognizers() ([]RecognizerConfig, error) {
	rf, err := ParseRecognizerFile(patterns.DCPRegexYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded recognizers: %w", err)
	}
	return rf.Recognizers, nil
}

// MergeRecognizers overlays layers by recognizer name: a later recognizer with
// the same name replaces the earlier one in place, new names are appended.
func MergeRecognizers(layers ...[]RecognizerConfig) []RecognizerConfig {
	index := make(map[string]int)
	var merged []RecognizerConfig
	for _, layer := range layers {
		for _, rc := range layer {
			if idx, ok := index[rc.Name]; ok {
				merged[idx] = rc
				continue
			}
			index[rc.Name] = len(merged)
			merged = append(merged, rc)
		}
	}
	return merged
}

// compiledPattern is one ready-to-run regex with its recognizer's settings.
type compiledPattern struct {
	recognizer string
	name       string
	label      dcp.Label
	re         *regexp.Regexp
	score      float64
	validate   string
	context    map[string][]string // language -> lowercased context words
}

func compile(recognizers []RecognizerConfig) ([]compiledPattern, error) {
	var out []compiledPattern
	for _, rec := range recognizers {
		if !rec.isEnabled() {
			continue
		}
		label, err := dcp.ParseLabel(rec.Label)
		if err != nil {
			return nil, fmt.Errorf("recognizer %q: %w", rec.Name, err)
		}
		switch rec.Validate {
		case "", ValidateIBAN, ValidateLuhn:
		default:
			return nil, fmt.Errorf("recognizer %q: unknown validate gate %q", rec.Name, rec.Validate)
		}
		words := make(map[string][]string, len(rec.SupportedLanguages))
		for _, lc := range rec.SupportedLanguages {
			for _, w := range lc.Context {
				words[lc.Language] = append(words[lc.Language], strings.ToLower(w))
			}
		}
		for _, p := range rec.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %q: %w", p.Name, rec.Name, err)
			}
			if p.Score < 0 || p.Score > 1 {
				return nil, fmt.Errorf("pattern %q in recognizer %q: score %v outside [0,1]", p.Name, rec.Name, p.Score)
			}
			out = append(out, compiledPattern{
				recognizer: rec.Name,
				name:       p.Name,
				label:      label,
				re:         re,
				score:      p.Score,
				validate:   rec.Validate,
				context:    words,
			})
		}
	}
	return out, nil
}
