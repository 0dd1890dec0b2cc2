package ingestion

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"endgame/internal/types"
)

// JobState is the lifecycle phase of an ingestion run.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Job is a point-in-time snapshot of one ingestion run.
type Job struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	SourceFile string   `json:"source_file"`
	State      JobState `json:"state"`
	Percent    int      `json:"percent"`
	Message    string   `json:"message"`
	Error      string   `json:"error,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at,omitempty"`
}

// Jobs tracks ingestion runs in memory. Snapshots are returned by value so
// callers never observe a job mid-update. Cancellation is cooperative: the
// registry holds each running job's cancel func and the orchestrator checks
// the derived context between batches.
type Jobs struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
}

// NewJobs returns an empty registry.
func NewJobs() *Jobs {
	return &Jobs{
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Begin registers a running job and returns its id plus the context the run
// must observe; Cancel aborts that context.
func (j *Jobs) Begin(ctx context.Context, userID, sourceFile string) (string, context.Context) {
	id := "job_" + uuid.New().String()[:8]
	runCtx, cancel := context.WithCancel(ctx)

	j.mu.Lock()
	j.jobs[id] = &Job{
		ID:         id,
		UserID:     userID,
		SourceFile: sourceFile,
		State:      JobRunning,
		Message:    "queued",
		StartedAt:  types.NowISO(),
	}
	j.cancels[id] = cancel
	j.mu.Unlock()

	return id, runCtx
}

// Progress updates a running job's completion estimate. Updates after the
// job reached a terminal state are dropped.
func (j *Jobs) Progress(id string, percent int, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, ok := j.jobs[id]
	if !ok || job.State != JobRunning {
		return
	}
	job.Percent = percent
	job.Message = message
}

// Finish records a job's terminal state. Context cancellation counts as
// cancelled, any other error as failed.
func (j *Jobs) Finish(id string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, ok := j.jobs[id]
	if !ok {
		return
	}
	if cancel, ok := j.cancels[id]; ok {
		cancel()
		delete(j.cancels, id)
	}

	job.FinishedAt = types.NowISO()
	switch {
	case err == nil:
		job.State = JobCompleted
		job.Percent = 100
		job.Message = "completed"
	case errors.Is(err, context.Canceled) || errors.Is(err, types.ErrCancelled):
		job.State = JobCancelled
		job.Message = "cancelled"
	default:
		job.State = JobFailed
		job.Error = err.Error()
		job.Message = "failed"
	}
}

// Cancel requests cooperative cancellation of a running job. The job stays
// running until the orchestrator observes the cancelled context at its next
// batch boundary.
func (j *Jobs) Cancel(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, ok := j.jobs[id]
	if !ok || job.State != JobRunning {
		return false
	}
	if cancel, ok := j.cancels[id]; ok {
		cancel()
	}
	return true
}

// Get returns a snapshot of one job.
func (j *Jobs) Get(id string) (Job, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	job, ok := j.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of every tracked job, most recent first.
func (j *Jobs) List() []Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt > out[b].StartedAt })
	return out
}
