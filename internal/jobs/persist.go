package jobs

import (
	"context"
	"time"
)

// DefaultPersistTimeout bounds one Persister call.
const DefaultPersistTimeout = 2 * time.Second

// Persister mirrors job transitions to durable storage. Upsert receives the
// full current state of the job and must be idempotent.
type Persister interface {
	Upsert(ctx context.Context, job Job) error
}

// PersisterFunc adapts a function to the Persister interface.
type PersisterFunc func(ctx context.Context, job Job) error

// Upsert calls f.
func (f PersisterFunc) Upsert(ctx context.Context, job Job) error { return f(ctx, job) }
