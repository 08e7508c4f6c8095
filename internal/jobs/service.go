package jobs

import "context"

// Service pairs a queue with its worker.
type Service struct {
	Queue  *Queue
	Worker *Worker
}

// NewService starts a worker over q.
func NewService(q *Queue, opts ...WorkerOption) *Service {
	return &Service{Queue: q, Worker: NewWorker(q, opts...)}
}

// Enqueue creates a job and submits fn for it. The returned snapshot is taken
// after submission, so a rejected job is already in the error state.
func (s *Service) Enqueue(kind string, meta map[string]any, fn WorkFunc) (Job, error) {
	job := s.Queue.Create(kind, meta)
	err := s.Worker.Submit(job.ID, fn)
	if snap, ok := s.Queue.Get(job.ID); ok {
		job = snap
	}
	return job, err
}

// Stop stops the worker.
func (s *Service) Stop(ctx context.Context) error {
	return s.Worker.Stop(ctx)
}
