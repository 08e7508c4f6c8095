package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Queue is the in-memory job table. All methods are safe for concurrent use;
// readers never observe a partially applied transition.
type Queue struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	// persistMu serializes persister calls. Each call writes the latest
	// snapshot, so the store converges on the final state even when
	// transitions of one job race.
	persistMu      sync.Mutex
	persister      Persister
	persistTimeout time.Duration

	now func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithPersister mirrors every transition to p.
func WithPersister(p Persister) QueueOption {
	return func(q *Queue) { q.persister = p }
}

// WithPersistTimeout bounds each persister call.
func WithPersistTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.persistTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates an empty queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		jobs:           make(map[string]*Job),
		persistTimeout: DefaultPersistTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Create registers a queued job and returns its snapshot.
func (q *Queue) Create(kind string, meta map[string]any) Job {
	if meta == nil {
		meta = map[string]any{}
	}
	j := &Job{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		Kind:      kind,
		Status:    StatusQueued,
		CreatedAt: q.now(),
		Meta:      meta,
	}
	q.mu.Lock()
	q.jobs[j.ID] = j
	snap := j.clone()
	q.mu.Unlock()

	q.after(snap)
	return snap
}

// Get returns a snapshot of the job.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// SetRunning moves a queued job to running.
func (q *Queue) SetRunning(id string) error {
	return q.transition(id, StatusRunning, func(j *Job, now time.Time) {
		j.StartedAt = &now
	})
}

// SetDone moves a running job to done with its result.
func (q *Queue) SetDone(id string, result map[string]any) error {
	if result == nil {
		result = map[string]any{}
	}
	return q.transition(id, StatusDone, func(j *Job, now time.Time) {
		j.Result = result
		j.FinishedAt = &now
	})
}

// SetError moves a running job to error with a failure description.
func (q *Queue) SetError(id, msg string) error {
	return q.transition(id, StatusError, func(j *Job, now time.Time) {
		j.Error = msg
		j.FinishedAt = &now
	})
}

// monotonic keeps created_at <= started_at <= finished_at when the clock
// steps backwards.
func monotonic(j *Job, now time.Time) time.Time {
	if now.Before(j.CreatedAt) {
		now = j.CreatedAt
	}
	if j.StartedAt != nil && now.Before(*j.StartedAt) {
		now = *j.StartedAt
	}
	return now
}

func allowed(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusDone || to == StatusError
	}
	return false
}

func (q *Queue) transition(id string, to Status, apply func(*Job, time.Time)) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !allowed(j.Status, to) {
		from := j.Status
		q.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s for job %s", ErrInvalidTransition, from, to, id)
	}
	j.Status = to
	apply(j, monotonic(j, q.now()))
	snap := j.clone()
	q.mu.Unlock()

	q.after(snap)
	return nil
}

// after runs the side effects of a transition outside the table lock.
func (q *Queue) after(snap Job) {
	recordTransition(context.Background(), snap)
	if q.persister == nil {
		return
	}

	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	latest, ok := q.Get(snap.ID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.persistTimeout)
	defer cancel()
	if err := q.persister.Upsert(ctx, latest); err != nil {
		persistFailures.Add(ctx, 1)
		log.Warn().Err(err).Str("job_id", latest.ID).Str("status", string(latest.Status)).Msg("job_persist_failed")
	}
}

// Filter selects jobs in List. Zero fields match everything.
type Filter struct {
	Kind   string
	Status Status
	Limit  int
}

// List returns matching jobs, newest first.
func (q *Queue) List(f Filter) []Job {
	q.mu.RLock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		if f.Kind != "" && j.Kind != f.Kind {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j.clone())
	}
	q.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Counts returns the number of jobs per status.
func (q *Queue) Counts() map[Status]int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	counts := make(map[Status]int, 4)
	for _, j := range q.jobs {
		counts[j.Status]++
	}
	return counts
}

// Prune removes terminal jobs that finished before cutoff and returns how
// many were removed. Queued and running jobs are never pruned.
func (q *Queue) Prune(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, j := range q.jobs {
		if j.Status.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}
