package recording

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/call-transcriber/internal/observability"
)

// DefaultHistory is how many finished jobs a Supervisor remembers
const DefaultHistory = 500

// Supervisor runs recording jobs concurrently and tracks their status.
// maxConcurrent bounds how many jobs run at once; 0 means unbounded.
type Supervisor struct {
	pipeline *Pipeline
	sem      chan struct{}
	history  int
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	jobs     map[string]*Job
	finished []string // terminal job ids, oldest first
}

// NewSupervisor creates a supervisor over pipeline
func NewSupervisor(pipeline *Pipeline, maxConcurrent int) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		pipeline: pipeline,
		history:  DefaultHistory,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*Job),
	}
	if maxConcurrent > 0 {
		s.sem = make(chan struct{}, maxConcurrent)
	}
	return s
}

// Submit registers a pending job for n and starts it in its own goroutine.
// It never blocks on the concurrency bound.
func (s *Supervisor) Submit(n Notification) *Job {
	job := NewJob(uuid.New().String(), n, s.now())

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	observability.RecordJobTransition(string(StatusPending))
	observability.RecordJobStart()

	s.wg.Add(1)
	go s.run(job)

	log.Info().
		Str("job_id", job.ID).
		Str("call_id", job.CallID).
		Str("vendor", job.Vendor).
		Str("duration", n.Duration).
		Msg("Recording job submitted")
	return job
}

func (s *Supervisor) run(job *Job) {
	defer s.wg.Done()
	defer s.finish(job)

	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-s.ctx.Done():
			// logs the cause, or the rejected transition
			_ = s.pipeline.fail(job, s.ctx.Err(), observability.JobLogger(job.ID, job.CallID))
			return
		}
	}

	s.pipeline.Run(s.ctx, job)
}

func (s *Supervisor) finish(job *Job) {
	observability.RecordJobEnd(string(job.Status()), job.SubmittedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished = append(s.finished, job.ID)
	for len(s.finished) > s.history {
		delete(s.jobs, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// Get returns the job with id, if still remembered
func (s *Supervisor) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// List returns a snapshot of all remembered jobs, newest first
func (s *Supervisor) List() []JobInfo {
	s.mu.RLock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		infos = append(infos, job.Info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].SubmittedAt.Equal(infos[j].SubmittedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].SubmittedAt.After(infos[j].SubmittedAt)
	})
	return infos
}

// Wait blocks until every submitted job has finished
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown waits for running jobs until ctx is done, then cancels the
// remaining ones and waits for them to unwind.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
