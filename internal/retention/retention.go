// Package retention prunes finished jobs on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dcpotel "github.com/dativo-io/dcpguard/internal/otel"
)

var tracer = dcpotel.Tracer("github.com/dativo-io/dcpguard/internal/retention")

// DefaultSchedule runs retention once an hour.
const DefaultSchedule = "@hourly"

// runTimeout bounds a single retention pass.
const runTimeout = 5 * time.Minute

// MemoryPruner removes terminal in-memory jobs older than cutoff.
type MemoryPruner interface {
	Prune(cutoff time.Time) int
}

// RecordPurger removes terminal persisted records older than cutoff.
type RecordPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Manager owns the retention cron entry.
type Manager struct {
	cron   *cron.Cron
	maxAge time.Duration
	queue  MemoryPruner
	store  RecordPurger
	now    func() time.Time
}

// New creates a Manager. store may be nil when jobs are not persisted.
func New(queue MemoryPruner, store RecordPurger, maxAge time.Duration) *Manager {
	return &Manager{
		cron:   cron.New(),
		maxAge: maxAge,
		queue:  queue,
		store:  store,
		now:    time.Now,
	}
}

// Schedule registers the retention pass. Expressions use the standard
// 5-field format or a descriptor such as "@hourly"; empty uses DefaultSchedule.
func (m *Manager) Schedule(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	if m.maxAge <= 0 {
		return fmt.Errorf("job retention must be positive, got %s", m.maxAge)
	}
	_, err := m.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		m.Run(ctx)
	})
	if err != nil {
		return fmt.Errorf("registering retention cron %q: %w", spec, err)
	}
	return nil
}

// Result counts what one pass removed.
type Result struct {
	Jobs    int   `json:"jobs"`
	Records int64 `json:"records"`
}

// Run prunes once. Failures are logged; a store error does not stop the
// in-memory prune.
func (m *Manager) Run(ctx context.Context) Result {
	cutoff := m.now().Add(-m.maxAge)
	ctx, span := tracer.Start(ctx, "retention.run",
		trace.WithAttributes(attribute.String("dcp.retention.cutoff", cutoff.UTC().Format(time.RFC3339))))
	defer span.End()

	var res Result
	if m.queue != nil {
		res.Jobs = m.queue.Prune(cutoff)
	}
	if m.store != nil {
		n, err := m.store.PurgeBefore(ctx, cutoff)
		if err != nil {
			span.RecordError(err)
			log.Error().Err(err).Msg("retention_purge_failed")
		}
		res.Records = n
	}

	span.SetAttributes(attribute.Int("dcp.retention.jobs", res.Jobs), attribute.Int64("dcp.retention.records", res.Records))
	if res.Jobs > 0 || res.Records > 0 {
		log.Info().Int("jobs", res.Jobs).Int64("records", res.Records).Msg("retention_completed")
	}
	return res
}

// Start begins executing the schedule.
func (m *Manager) Start() {
	m.cron.Start()
}

// Stop halts the scheduler and waits for a running pass to finish.
func (m *Manager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries.
func (m *Manager) Entries() int {
	return len(m.cron.Entries())
}
