package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
)

var tracer = dcpotel.Tracer("github.com/dativo-io/dcpguard/internal/jobs")

// Pool defaults.
const (
	DefaultConcurrency = 2
	DefaultQueueSize   = 64
)

var (
	// ErrQueueFull is returned by Submit when no task slot is free.
	ErrQueueFull = errors.New("job queue full")
	// ErrWorkerStopped is returned by Submit after Stop.
	ErrWorkerStopped = errors.New("job worker stopped")
)

// WorkFunc is one deferred unit of work. The context is cancelled only when
// the worker shuts down past its drain deadline.
type WorkFunc func(ctx context.Context) (map[string]any, error)

type task struct {
	id string
	fn WorkFunc
}

// Worker executes submitted jobs on a bounded pool of goroutines.
type Worker struct {
	queue       *Queue
	concurrency int
	tasks       chan task

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu      sync.RWMutex
	stopped bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency sets the number of pool goroutines.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithQueueSize sets how many submitted jobs may wait for a free goroutine.
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) {
		if n >= 0 {
			w.tasks = make(chan task, n)
		}
	}
}

// NewWorker starts a pool executing jobs of q.
func NewWorker(q *Queue, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:       q,
		concurrency: DefaultConcurrency,
		tasks:       make(chan task, DefaultQueueSize),
	}
	for _, o := range opts {
		o(w)
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	for i := 0; i < w.concurrency; i++ {
		w.group.Go(func() error {
			w.loop()
			return nil
		})
	}
	return w
}

// Submit marks the job running and hands fn to the pool. It never waits for
// a free goroutine: when no slot is left the job is failed with ErrQueueFull.
func (w *Worker) Submit(jobID string, fn WorkFunc) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if err := w.queue.SetRunning(jobID); err != nil {
		return err
	}
	if w.stopped {
		w.fail(jobID, ErrWorkerStopped)
		return ErrWorkerStopped
	}
	select {
	case w.tasks <- task{id: jobID, fn: fn}:
		return nil
	default:
		w.fail(jobID, ErrQueueFull)
		return ErrQueueFull
	}
}

// Stop closes intake and waits for queued and running jobs. When ctx ends
// first, the work context is cancelled, jobs still waiting are failed, and
// Stop returns ctx.Err() once running work returns.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.tasks)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = w.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	for t := range w.tasks {
		if w.ctx.Err() != nil {
			w.fail(t.id, ErrWorkerStopped)
			continue
		}
		w.run(t)
	}
}

func (w *Worker) run(t task) {
	job, _ := w.queue.Get(t.id)
	ctx, span := tracer.Start(w.ctx, "jobs.run",
		trace.WithAttributes(dcpotel.JobAttributes(job.ID, job.Kind, string(StatusRunning))...))
	defer span.End()

	result, err := execute(ctx, t.fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger := dcpotel.Logger(ctx)
		logger.Error().Err(err).Str("job_id", t.id).Str("kind", job.Kind).Msg("job_failed")
		w.fail(t.id, err)
		return
	}
	if err := w.queue.SetDone(t.id, result); err != nil {
		logger := dcpotel.Logger(ctx)
		logger.Error().Err(err).Str("job_id", t.id).Msg("job_transition_failed")
	}
}

// execute runs fn, turning a panic into an error.
func execute(ctx context.Context, fn WorkFunc) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

func (w *Worker) fail(id string, cause error) {
	if err := w.queue.SetError(id, cause.Error()); err != nil {
		logger := dcpotel.Logger(w.ctx)
		logger.Error().Err(err).Str("job_id", id).Msg("job_transition_failed")
	}
}
