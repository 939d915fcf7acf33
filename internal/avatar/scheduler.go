package avatar

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// JobStatus tracks one clip through the generation pipeline.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSubmitted JobStatus = "submitted"
	JobPolling   JobStatus = "polling"
	JobReady     JobStatus = "ready"
	JobFailed    JobStatus = "failed"
)

// Job is one sentence chunk awaiting avatar generation.
type Job struct {
	ID        string
	TalkID    string
	Text      string
	Priority  int
	Status    JobStatus
	ResultURL string
}

// Generator is the subset of Client the scheduler needs.
type Generator interface {
	CreateFromText(ctx context.Context, text string) (string, error)
	WaitForResult(ctx context.Context, talkID string) (Result, error)
}

// Scheduler serializes avatar generation so that clips come back in the
// order their text was produced. At most one job is ever in the
// submitted/polling states; the service behaves as single-concurrency and
// overlapping jobs would play back out of order.
type Scheduler struct {
	client   Generator
	onReady  func(Job, Result)
	onFailed func(Job, error)

	mu       sync.Mutex
	queue    []*Job
	active   *Job
	nextPrio int
	wake     chan struct{}
}

func NewScheduler(client Generator, onReady func(Job, Result), onFailed func(Job, error)) *Scheduler {
	return &Scheduler{
		client:   client,
		onReady:  onReady,
		onFailed: onFailed,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue appends a pending job with the next submission priority.
func (s *Scheduler) Enqueue(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	job := &Job{ID: uuid.NewString(), Text: text, Priority: s.nextPrio, Status: JobPending}
	s.nextPrio++
	s.queue = append(s.queue, job)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many jobs are queued, not counting the active one.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Active returns a copy of the in-flight job, if any.
func (s *Scheduler) Active() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Job{}, false
	}
	return *s.active, true
}

// Start launches the single worker. It returns immediately; the worker
// drains the queue until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		job := s.pop()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		s.process(ctx, job)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) pop() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	s.active = job
	return job
}

func (s *Scheduler) finish(job *Job, status JobStatus) {
	s.mu.Lock()
	job.Status = status
	s.active = nil
	s.mu.Unlock()
}

// process runs one job to completion. A failed or timed-out clip is logged
// and discarded; the text conversation is unaffected and the worker moves on
// to the next queued chunk.
func (s *Scheduler) process(ctx context.Context, job *Job) {
	s.mu.Lock()
	job.Status = JobSubmitted
	s.mu.Unlock()

	talkID, err := s.client.CreateFromText(ctx, job.Text)
	if err != nil {
		log.Printf("avatar: create failed for job %s: %v", job.ID, err)
		s.finish(job, JobFailed)
		if s.onFailed != nil {
			s.onFailed(*job, err)
		}
		return
	}

	s.mu.Lock()
	job.TalkID = talkID
	job.Status = JobPolling
	s.mu.Unlock()

	res, err := s.client.WaitForResult(ctx, talkID)
	if err != nil {
		log.Printf("avatar: job %s (talk %s) did not complete: %v", job.ID, talkID, err)
		s.finish(job, JobFailed)
		if s.onFailed != nil {
			s.onFailed(*job, err)
		}
		return
	}

	s.mu.Lock()
	job.ResultURL = res.URL
	s.mu.Unlock()
	s.finish(job, JobReady)
	if s.onReady != nil {
		s.onReady(*job, res)
	}
}
