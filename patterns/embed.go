// Package patterns provides embedded default configuration data: the regex
// recognizer definitions and the span resolver priority tables.
// YAML files in this directory use the Presidio-compatible recognizer format
// with dcpguard extensions (label, validate, context).
package patterns

import _ "embed"

//go:embed dcp_regex.yaml
var dcpRegexYAML []byte

//go:embed priorities.yaml
var prioritiesYAML []byte

// DCPRegexYAML returns the embedded default regex recognizer definitions.
func DCPRegexYAML() []byte { return dcpRegexYAML }

// PrioritiesYAML returns the embedded label and detector priority tables.
func PrioritiesYAML() []byte { return prioritiesYAML }
