package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/notify"
)

// Status is the lifecycle state of a processing job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one queued processing run. It is created on enqueue, mutated only
// by the queue, and removed on cancellation or clearing. The session it
// points to outlives it.
type Job struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Request     Request    `json:"-"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	Stage       string     `json:"stage"`
	Error       string     `json:"error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	cancelled atomic.Bool
}

// EventPublishFunc publishes a job event to live subscribers.
type EventPublishFunc func(eventType, jobID, sessionID string, payload map[string]any)

// QueueStats reports the current state of the job queue.
type QueueStats struct {
	Pending    int   `json:"pending"`
	Processing int   `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// QueueOptions configures the background job queue.
type QueueOptions struct {
	Orchestrator  *Orchestrator
	MaxConcurrent int           // default 2
	PollInterval  time.Duration // default 1s
	Sessions      SessionSink   // optional
	Notifier      notify.Notifier
	PublishEvent  EventPublishFunc
	Log           zerolog.Logger
}

// Queue accepts jobs, runs up to MaxConcurrent of them concurrently
// through the orchestrator, tracks lifecycle and retries, and emits
// completion notifications. The job list is the only shared structure;
// every mutation is a short lock-guarded list edit.
type Queue struct {
	opts QueueOptions
	log  zerolog.Logger

	mu          sync.Mutex
	jobs        []*Job
	running     int
	allDoneSent bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
}

// NewQueue creates a background job queue.
func NewQueue(opts QueueOptions) *Queue {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		opts:   opts,
		log:    opts.Log.With().Str("component", "job-queue").Logger(),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the queue supervisor loop.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.supervise()
	q.log.Info().Int("max_concurrent", q.opts.MaxConcurrent).Msg("job queue started")
}

// Stop signals the supervisor to exit and waits for running jobs to drain.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
	q.log.Info().
		Int64("completed", q.completed.Load()).
		Int64("failed", q.failed.Load()).
		Msg("job queue stopped")
}

// Enqueue admits a new job in Pending state and wakes the supervisor.
func (q *Queue) Enqueue(req Request) *Job {
	job := &Job{
		ID:         uuid.NewString(),
		SessionID:  req.SessionID,
		Request:    req,
		Status:     StatusPending,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.allDoneSent = false
	q.mu.Unlock()

	metrics.JobsEnqueuedTotal.Inc()
	q.publishEvent("job_enqueued", job, nil)
	q.nudge()
	return job
}

// Retry moves a Failed job back to Pending, clearing its error and progress.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	job := q.findLocked(id)
	if job == nil {
		q.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if job.Status != StatusFailed {
		q.mu.Unlock()
		return fmt.Errorf("job %s is %s, only failed jobs can be retried", id, job.Status)
	}
	job.Status = StatusPending
	job.Error = ""
	job.Progress = 0
	job.Stage = ""
	job.StartedAt = nil
	job.CompletedAt = nil
	q.allDoneSent = false
	q.mu.Unlock()

	q.publishEvent("job_retried", job, nil)
	q.nudge()
	return nil
}

// Cancel removes a job from the queue outright. A running job is not
// forcibly aborted; its in-flight result is discarded when it returns.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	job := q.findLocked(id)
	if job == nil {
		q.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	job.cancelled.Store(true)
	q.removeLocked(id)
	q.mu.Unlock()

	q.publishEvent("job_cancelled", job, nil)
	return nil
}

// ClearCompleted removes all Completed jobs, leaving other states intact.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	kept := q.jobs[:0]
	removed := 0
	for _, j := range q.jobs {
		if j.Status == StatusCompleted {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	q.jobs = kept
	q.mu.Unlock()
	return removed
}

// Jobs returns a snapshot of all queued jobs in admission order.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// Get returns a snapshot of one job.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j := q.findLocked(id); j != nil {
		return j.snapshot(), true
	}
	return Job{}, false
}

// Stats returns current queue statistics.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := QueueStats{
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
	for _, j := range q.jobs {
		switch j.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		}
	}
	return s
}

// supervise is the scheduler loop: it claims Pending jobs up to the
// concurrency limit, then sleeps on the poll interval (or an enqueue nudge)
// instead of busy-spinning.
func (q *Queue) supervise() {
	defer q.wg.Done()
	for {
		for {
			job := q.claimNext()
			if job == nil {
				break
			}
			q.wg.Add(1)
			go q.run(job)
		}

		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		case <-time.After(q.opts.PollInterval):
		}
	}
}

// claimNext advances the oldest Pending job to Processing if a concurrency
// slot is free.
func (q *Queue) claimNext() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running >= q.opts.MaxConcurrent {
		return nil
	}
	for _, j := range q.jobs {
		if j.Status != StatusPending {
			continue
		}
		now := time.Now().UTC()
		j.Status = StatusProcessing
		j.StartedAt = &now
		j.Stage = "Starting"
		q.running++
		metrics.JobsProcessing.Inc()
		return j
	}
	return nil
}

// run executes one claimed job through the orchestrator.
func (q *Queue) run(job *Job) {
	defer q.wg.Done()
	defer metrics.JobsProcessing.Dec()
	defer q.nudge()

	log := q.log.With().Str("job_id", job.ID).Str("session_id", job.SessionID).Logger()
	q.publishStatus(job)

	outcome := q.opts.Orchestrator.Run(q.ctx, job.Request, func(pct float64, stage string) {
		q.updateProgress(job, pct, stage)
	})

	if job.cancelled.Load() {
		q.mu.Lock()
		q.running--
		q.mu.Unlock()
		log.Info().Msg("job was cancelled, discarding result")
		q.maybeNotifyAllDone()
		return
	}

	// The slot is released in the same critical section that records the
	// terminal state, so maybeNotifyAllDone never counts this job as still
	// running.
	now := time.Now().UTC()
	q.mu.Lock()
	q.running--
	job.CompletedAt = &now
	if outcome.Failed() {
		job.Status = StatusFailed
		job.Error = outcome.Error
		job.Stage = "Failed"
	} else {
		job.Status = StatusCompleted
		job.Progress = 100
		job.Stage = "Completed"
	}
	q.mu.Unlock()

	metrics.JobDuration.Observe(outcome.Elapsed.Seconds())
	if outcome.Failed() {
		q.failed.Add(1)
		metrics.JobsFailedTotal.Inc()
		log.Warn().Str("error", outcome.Error).Dur("elapsed", outcome.Elapsed).Msg("job failed")
	} else {
		q.completed.Add(1)
		metrics.JobsCompletedTotal.Inc()
		log.Info().Dur("elapsed", outcome.Elapsed).Msg("job completed")
	}

	q.finalizeSession(job, outcome)
	q.publishStatus(job)
	q.notifyJob(job)
	q.maybeNotifyAllDone()
}

// updateProgress applies a monotonic progress update and publishes it.
// Updates for jobs no longer in the queue (cancelled) are dropped.
func (q *Queue) updateProgress(job *Job, pct float64, stage string) {
	if job.cancelled.Load() {
		return
	}
	q.mu.Lock()
	if pct > job.Progress {
		job.Progress = pct
	}
	job.Stage = stage
	pct = job.Progress
	q.mu.Unlock()

	q.publishEvent("job_progress", job, map[string]any{
		"progress": pct,
		"stage":    stage,
	})
	if q.opts.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		upd := database.SessionUpdate{Progress: &pct, Stage: &stage}
		if err := q.opts.Sessions.UpdateSession(ctx, job.SessionID, upd); err != nil {
			q.log.Debug().Err(err).Str("session_id", job.SessionID).Msg("progress sink update failed")
		}
		cancel()
	}
}

// finalizeSession publishes the terminal job state to the session store.
func (q *Queue) finalizeSession(job *Job, outcome Outcome) {
	if q.opts.Sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := string(job.Status)
	upd := database.SessionUpdate{
		Status:      &status,
		CompletedAt: job.CompletedAt,
	}
	if outcome.Failed() {
		upd.Error = &outcome.Error
	}
	if err := q.opts.Sessions.UpdateSession(ctx, job.SessionID, upd); err != nil {
		q.log.Warn().Err(err).Str("session_id", job.SessionID).Msg("final session update failed")
	}
}

func (q *Queue) notifyJob(job *Job) {
	if q.opts.Notifier == nil {
		return
	}
	var n notify.Notification
	if job.Status == StatusFailed {
		n = notify.Notification{
			Type:       notify.TypeJobFailed,
			Title:      "Transcription failed",
			Message:    job.Error,
			Action:     "retry",
			Persistent: true,
		}
	} else {
		n = notify.Notification{
			Type:    notify.TypeJobCompleted,
			Title:   "Transcription complete",
			Message: fmt.Sprintf("Session %s is ready", job.SessionID),
		}
	}
	metrics.NotificationsTotal.WithLabelValues(n.Type).Inc()
	q.opts.Notifier.Notify(n)
}

// maybeNotifyAllDone emits one aggregate notification when the last active
// job finishes. The flag resets whenever new work is admitted.
func (q *Queue) maybeNotifyAllDone() {
	q.mu.Lock()
	if q.allDoneSent {
		q.mu.Unlock()
		return
	}
	for _, j := range q.jobs {
		if j.Status == StatusPending || j.Status == StatusProcessing {
			q.mu.Unlock()
			return
		}
	}
	if q.running > 0 {
		q.mu.Unlock()
		return
	}
	q.allDoneSent = true
	completed, failed := q.completed.Load(), q.failed.Load()
	q.mu.Unlock()

	if q.opts.Notifier == nil {
		return
	}
	metrics.NotificationsTotal.WithLabelValues(notify.TypeAllDone).Inc()
	q.opts.Notifier.Notify(notify.Notification{
		Type:    notify.TypeAllDone,
		Title:   "All jobs finished",
		Message: fmt.Sprintf("%d completed, %d failed", completed, failed),
	})
}

func (q *Queue) publishStatus(job *Job) {
	q.mu.Lock()
	payload := map[string]any{
		"status":   string(job.Status),
		"progress": job.Progress,
		"stage":    job.Stage,
	}
	if job.Error != "" {
		payload["error"] = job.Error
	}
	q.mu.Unlock()
	q.publishEvent("job_status", job, payload)
}

func (q *Queue) publishEvent(eventType string, job *Job, payload map[string]any) {
	if q.opts.PublishEvent == nil {
		return
	}
	q.opts.PublishEvent(eventType, job.ID, job.SessionID, payload)
}

// nudge wakes the supervisor without waiting for the next poll tick.
func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) findLocked(id string) *Job {
	for _, j := range q.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (q *Queue) removeLocked(id string) {
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return
		}
	}
}

func (j *Job) snapshot() Job {
	return Job{
		ID:          j.ID,
		SessionID:   j.SessionID,
		Request:     j.Request,
		Status:      j.Status,
		Progress:    j.Progress,
		Stage:       j.Stage,
		Error:       j.Error,
		EnqueuedAt:  j.EnqueuedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
