package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dativo-io/dcpguard/internal/dcp"
)

// maxInputBytes caps text read from a file or stdin.
const maxInputBytes = 10 << 20

// readInput returns the text to analyze: the joined positional arguments,
// the contents of --file, or stdin when the single argument is "-".
func readInput(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return "", fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		return readAllLimited(f)
	case len(args) == 1 && args[0] == "-":
		return readAllLimited(cmd.InOrStdin())
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	return "", errors.New("no input: pass text, --file or - for stdin")
}

func readAllLimited(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes))
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderSpans writes one line per span (testable).
func renderSpans(w io.Writer, spans []dcp.Span) {
	if len(spans) == 0 {
		fmt.Fprintln(w, "No personal data found.")
		return
	}
	fmt.Fprintf(w, "Spans (%d):\n\n", len(spans))
	for _, s := range spans {
		text := ""
		if s.Text != nil {
			text = fmt.Sprintf(" %q", *s.Text)
		}
		fmt.Fprintf(w, "  %5d-%-5d %-10s %.2f %-9s%s\n", s.Start, s.End, s.Label, s.Score, s.Source, text)
	}
}

// renderSummary writes label counts sorted by label (testable).
func renderSummary(w io.Writer, summary dcp.Summary) {
	labels := make([]string, 0, len(summary))
	for l := range summary {
		labels = append(labels, string(l))
	}
	sort.Strings(labels)
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%d", l, summary[dcp.Label(l)]))
	}
	fmt.Fprintf(w, "Summary: %s\n", strings.Join(parts, " "))
}

// renderErrors writes per-detector failures sorted by detector (testable).
func renderErrors(w io.Writer, errs dcp.DetectorErrors) {
	if len(errs) == 0 {
		return
	}
	names := make([]string, 0, len(errs))
	for n := range errs {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "Detector errors:")
	for _, n := range names {
		fmt.Fprintf(w, "  %s: %s\n", n, errs[n])
	}
}
