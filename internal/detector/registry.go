// Package detector runs pluggable DCP detectors over text.
//
// A Detector is an opaque capability mapping (text, language) to candidate
// spans; it may wrap a regex engine, a statistical NER model or a remote
// service. The Registry constructs detectors lazily by name and caches them,
// and the Runner fans a request out to an ordered list of detectors with
// per-detector failure isolation.
package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dativo-io/dcpguard/internal/dcp"
)

// Detector maps text in a language to candidate spans. Implementations must
// be safe for concurrent use: one instance is shared by every request.
type Detector interface {
	Detect(ctx context.Context, text, language string) ([]dcp.Span, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, text, language string) ([]dcp.Span, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, text, language string) ([]dcp.Span, error) {
	return f(ctx, text, language)
}

// Factory constructs a detector. Construction may be expensive (model
// loading) and may fail.
type Factory func(ctx context.Context) (Detector, error)

// WarmupOK is the Warmup status of a detector that constructed successfully.
const WarmupOK = "ok"

// Registry maps names to factories and caches constructed detectors. A
// detector is constructed at most once even under concurrent first use;
// failed constructions are not cached and are retried on the next Get.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Detector
	group     singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Detector),
	}
}

// Register adds or replaces the factory for name. Replacing a factory drops
// any cached instance built by the previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.instances, name)
}

// RegisterInstance registers an already constructed detector.
func (r *Registry) RegisterInstance(name string, d Detector) {
	r.Register(name, func(context.Context) (Detector, error) { return d, nil })
}

// Get returns the cached detector for name, constructing it on first use.
func (r *Registry) Get(ctx context.Context, name string) (Detector, error) {
	r.mu.RLock()
	d, ok := r.instances[name]
	factory, registered := r.factories[name]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}
	if !registered {
		return nil, unknownCapability(name)
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		// A concurrent caller may have finished construction while we waited.
		r.mu.RLock()
		d, ok := r.instances[name]
		r.mu.RUnlock()
		if ok {
			return d, nil
		}

		d, err := construct(ctx, name, factory)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.instances[name] = d
		r.mu.Unlock()
		log.Debug().Str("detector", name).Msg("detector_loaded")
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Detector), nil
}

// construct runs the factory, converting both errors and panics into an
// InitializationError.
func construct(ctx context.Context, name string, factory Factory) (d Detector, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d, err = nil, &InitializationError{Name: name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	d, err = factory(ctx)
	if err != nil {
		return nil, &InitializationError{Name: name, Err: err}
	}
	if d == nil {
		return nil, &InitializationError{Name: name, Err: fmt.Errorf("factory returned no detector")}
	}
	return d, nil
}

// Warmup constructs each named detector, best effort. It never fails: the
// returned map holds "ok" or "error: <description>" per name. An empty list
// warms every registered detector.
func (r *Registry) Warmup(ctx context.Context, names []string) map[string]string {
	if len(names) == 0 {
		names = r.ListAvailable()
	}
	status := make(map[string]string, len(names))
	for _, name := range names {
		if _, err := r.Get(ctx, name); err != nil {
			status[name] = "error: " + err.Error()
			log.Warn().Err(err).Str("detector", name).Msg("detector_warmup_failed")
			continue
		}
		status[name] = WarmupOK
	}
	return status
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// ListAvailable returns every registered detector name, sorted.
func (r *Registry) ListAvailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListLoaded returns the names of constructed detectors, sorted.
func (r *Registry) ListLoaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
