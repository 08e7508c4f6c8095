package detector

import (
	"errors"
	"fmt"
)

// ErrUnknownCapability is returned when a requested detector is not registered.
var ErrUnknownCapability = errors.New("unknown detector")

// InitializationError reports a detector whose factory failed (missing
// dependency, model load error, unreachable sidecar).
type InitializationError struct {
	Name string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("detector %s unavailable: %v", e.Name, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// DetectionError reports a constructed detector that failed during Detect.
type DetectionError struct {
	Name string
	Err  error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detector %s failed: %v", e.Name, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

func unknownCapability(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownCapability, name)
}
