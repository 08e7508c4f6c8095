package connector

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Filesystem reads resources from the local disk.
type Filesystem struct {
	MaxBytes int64
}

// NewFilesystem creates a filesystem connector.
func NewFilesystem() *Filesystem {
	return &Filesystem{MaxBytes: DefaultMaxBytes}
}

// FilePath strips the file:// prefix from uri and makes the path absolute.
func FilePath(uri string) (string, error) {
	p := strings.TrimPrefix(uri, "file://")
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Abs(p)
}

// List returns the regular files under root, sorted by path. A missing root
// yields no resources.
func (f *Filesystem) List(ctx context.Context, root string, recursive bool) ([]Resource, error) {
	base, err := FilePath(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}

	var out []Resource
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != base && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		out = append(out, Resource{
			URI:  "file://" + p,
			Kind: KindFromName(d.Name()),
			Metadata: map[string]string{
				"name":   d.Name(),
				"suffix": filepath.Ext(d.Name()),
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", base, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

// ReadText reads up to MaxBytes of the file. Invalid UTF-8 is dropped.
func (f *Filesystem) ReadText(_ context.Context, uri string) (string, error) {
	p, err := FilePath(uri)
	if err != nil {
		return "", err
	}
	fh, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", p, err)
	}
	defer fh.Close()
	return readText(fh, f.MaxBytes)
}

func readText(r io.Reader, max int64) (string, error) {
	if max <= 0 {
		max = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max))
	if err != nil {
		return "", fmt.Errorf("reading resource: %w", err)
	}
	return toValidUTF8(data), nil
}

func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "")
}
