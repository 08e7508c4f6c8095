// Package connector lists and reads resources from storage backends for
// scan jobs. Resources are addressed by URI: file:///abs/path for the local
// filesystem and s3://bucket/key for S3-compatible object stores.
package connector

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
)

// Resource kinds.
const (
	KindText     = "text"
	KindDocument = "document"
	KindImage    = "image"
	KindFile     = "file"
)

// DefaultMaxBytes caps how much of one resource is read.
const DefaultMaxBytes = 4 << 20

// ErrUnsupportedScheme is returned for a URI no connector handles.
var ErrUnsupportedScheme = errors.New("unsupported connector scheme")

// ErrConnectorMismatch is returned when a named connector does not serve the
// scheme of the root it was given.
var ErrConnectorMismatch = errors.New("connector does not match root")

// Connector names as accepted on the API, keyed to their URI scheme.
var schemeByName = map[string]string{
	"filesystem": "file",
	"s3":         "s3",
}

// SchemeForName maps a connector name to its URI scheme.
func SchemeForName(name string) (string, bool) {
	s, ok := schemeByName[name]
	return s, ok
}

// NameForScheme is the inverse of SchemeForName. Unknown schemes map to
// themselves.
func NameForScheme(scheme string) string {
	for name, s := range schemeByName {
		if s == scheme {
			return name
		}
	}
	return scheme
}

// Scheme returns the scheme of uri. A URI without one is a local path.
func Scheme(uri string) string {
	if i := strings.Index(uri, "://"); i > 0 {
		return uri[:i]
	}
	return "file"
}

// CheckName verifies that the connector called name serves root. An empty
// name accepts any root.
func CheckName(name, root string) error {
	if name == "" {
		return nil
	}
	want, ok := SchemeForName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, name)
	}
	if got := Scheme(root); got != want {
		return fmt.Errorf("%w: %s connector cannot read %s:// roots", ErrConnectorMismatch, name, got)
	}
	return nil
}

// Resource is one listable item of a backend.
type Resource struct {
	URI      string            `json:"uri"`
	Kind     string            `json:"kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Connector lists resources under a root and reads them.
type Connector interface {
	List(ctx context.Context, root string, recursive bool) ([]Resource, error)
	ReadText(ctx context.Context, uri string) (string, error)
}

// KindFromName classifies a resource by its file extension.
func KindFromName(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".txt", ".md", ".log", ".csv", ".json", ".yaml", ".yml", ".xml", ".html", ".htm", ".eml":
		return KindText
	case ".pdf", ".docx", ".xlsx", ".odt", ".pptx":
		return KindDocument
	case ".png", ".jpg", ".jpeg", ".webp", ".tiff", ".gif":
		return KindImage
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		switch {
		case strings.HasPrefix(mt, "text/"):
			return KindText
		case strings.HasPrefix(mt, "image/"):
			return KindImage
		}
	}
	return KindFile
}

// Router dispatches by URI scheme.
type Router struct {
	connectors map[string]Connector
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{connectors: make(map[string]Connector)}
}

// Handle registers c for scheme (e.g. "file", "s3").
func (r *Router) Handle(scheme string, c Connector) {
	r.connectors[scheme] = c
}

// For returns the connector for uri. A URI without a scheme is a local path.
func (r *Router) For(uri string) (Connector, error) {
	scheme := Scheme(uri)
	c, ok := r.connectors[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return c, nil
}

// Schemes returns the registered schemes.
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.connectors))
	for s := range r.connectors {
		out = append(out, s)
	}
	return out
}
