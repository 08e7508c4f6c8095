// Package remote implements detectors backed by HTTP services: the Presidio
// Analyzer REST API and NER sidecars serving spaCy or Hugging Face models.
//
// Both services index text by Unicode code point. Offsets are converted to
// byte offsets before spans leave this package.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTimeout bounds one call to a remote detector.
const DefaultTimeout = 10 * time.Second

// Option configures a remote detector.
type Option func(*settings)

type settings struct {
	client    *http.Client
	languages []string
	fallback  string
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithLanguages restricts the languages sent to the service; any other
// requested language is replaced by fallback.
func WithLanguages(fallback string, languages ...string) Option {
	return func(s *settings) {
		s.fallback = fallback
		s.languages = languages
	}
}

func newSettings(opts []Option) settings {
	s := settings{client: &http.Client{Timeout: DefaultTimeout}}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func (s settings) language(requested string) string {
	if len(s.languages) == 0 {
		return requested
	}
	for _, l := range s.languages {
		if l == requested {
			return requested
		}
	}
	return s.fallback
}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// runeOffsets maps code point indices of text to byte offsets. The returned
// slice has one entry per rune plus a final entry equal to len(text).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

// byteRange converts a code point range to a byte range.
func byteRange(offsets []int, start, end int) (int, int, error) {
	if start < 0 || end > len(offsets)-1 || start >= end {
		return 0, 0, fmt.Errorf("offsets [%d,%d) outside text of %d characters", start, end, len(offsets)-1)
	}
	return offsets[start], offsets[end], nil
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}
