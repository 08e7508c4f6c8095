// Package jobs runs pipelines asynchronously as tracked jobs.
//
// A Queue holds the job table and enforces the lifecycle
// queued -> running -> done | error. A Worker executes submitted work on a
// bounded pool and always leaves a job in a terminal state. Every transition
// can be mirrored to a Persister; persistence never affects the in-memory
// state.
package jobs

import (
	"errors"
	"maps"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusRunning, StatusDone, StatusError:
		return st, nil
	}
	return "", errors.New("unknown job status " + s)
}

var (
	// ErrJobNotFound is returned for an id the queue does not hold.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a transition breaks the lifecycle.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Job is a snapshot of one job. Values handed out by the queue are copies.
type Job struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`
	Result     map[string]any `json:"result"`
	Error      string         `json:"error,omitempty"`
	Meta       map[string]any `json:"meta"`
}

func (j *Job) clone() Job {
	c := *j
	c.Meta = maps.Clone(j.Meta)
	c.Result = maps.Clone(j.Result)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// Duration returns how long the job ran, or zero when it has not finished.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}
