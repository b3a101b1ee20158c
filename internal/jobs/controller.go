package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rainlynd/srt-translator-sub001/internal/logger"
	"github.com/rainlynd/srt-translator-sub001/internal/srt"
)

// DispatchFunc runs one admitted job. The controller invokes it on its own
// goroutine; the context is cancelled when the job's class is cancelled.
// Implementations must call Completed exactly once.
type DispatchFunc func(ctx context.Context, job *FileJob)

// APIResources is the slice of the rate governor the controller needs for
// cancellation: failing parked admission waiters and resetting state.
type APIResources interface {
	RejectMatching(pred func(jobID string) bool) int
	Reset()
}

// History receives terminal job records. Implementations must tolerate
// being called from job-completion paths and should not block for long.
type History interface {
	RecordJob(job *FileJob) error
}

type activeJob struct {
	job    *FileJob
	cancel context.CancelFunc
}

// Controller is the admission gate: it holds priority FIFO queues, caps
// the number of concurrently active jobs, and owns class-level
// cancellation. It never touches rate tokens itself; executors acquire
// those per API call.
type Controller struct {
	mu        sync.Mutex
	highQ     []*FileJob
	normalQ   []*FileJob
	active    map[string]*activeJob
	maxActive int
	cancelled map[Class]bool

	dispatch  DispatchFunc
	resources APIResources
	bus       *Bus
	history   History
}

// Option configures a Controller.
type Option func(*Controller)

// WithHistory attaches a terminal-outcome recorder.
func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

// NewController creates a controller dispatching through fn. maxActive
// is clamped to at least 1.
func NewController(maxActive int, res APIResources, bus *Bus, fn DispatchFunc, opts ...Option) *Controller {
	if maxActive < 1 {
		maxActive = 1
	}
	c := &Controller{
		active:    make(map[string]*activeJob),
		maxActive: maxActive,
		cancelled: make(map[Class]bool),
		dispatch:  fn,
		resources: res,
		bus:       bus,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates and enqueues a job, then fills free active slots.
// The returned ID identifies the job in all subsequent events. A job
// arriving while its class cancel flag is set is rejected terminally.
func (c *Controller) Submit(job *FileJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	if c.cancelled[job.Class()] {
		job.State = StateCancelled
		job.Error = ErrClassCancelled.Error()
		c.finishLocked(job)
		c.mu.Unlock()
		return job.ID, ErrClassCancelled
	}
	c.mu.Unlock()

	// Validate the payload before it can occupy a queue slot.
	if _, err := srt.ParseEntries(job.SRT); err != nil {
		if errors.Is(err, srt.ErrEmptyInput) {
			err = ErrEmptySubtitle
		}
		c.mu.Lock()
		job.State = StateFailed
		job.Error = err.Error()
		c.finishLocked(job)
		c.mu.Unlock()
		return job.ID, err
	}

	c.mu.Lock()
	// The flag may have been raised while the payload was being parsed.
	if c.cancelled[job.Class()] {
		job.State = StateCancelled
		job.Error = ErrClassCancelled.Error()
		c.finishLocked(job)
		c.mu.Unlock()
		return job.ID, ErrClassCancelled
	}
	job.State = StateQueued
	if job.Priority == PriorityHigh {
		c.highQ = append(c.highQ, job)
	} else {
		c.normalQ = append(c.normalQ, job)
	}
	c.bus.Publish(Event{Type: EventTypeProgress, JobID: job.ID, Class: job.Class(), Stage: "queued"})
	c.fillLocked()
	c.mu.Unlock()
	return job.ID, nil
}

// Completed marks a job terminal, frees its active slot, and admits the
// next queued job. status must be terminal.
func (c *Controller) Completed(id string, status State, outputRef, errMsg string) error {
	if !status.IsTerminal() {
		return ErrInvalidTransition
	}

	c.mu.Lock()
	a, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownJob
	}
	if !validTransition(a.job.State, status) {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	delete(c.active, id)
	a.cancel()
	a.job.State = status
	a.job.OutputRef = outputRef
	a.job.Error = errMsg
	c.finishLocked(a.job)
	c.fillLocked()
	c.mu.Unlock()
	return nil
}

// Running transitions an admitted job to running. Executors call it when
// actual work begins.
func (c *Controller) Running(id string) {
	c.mu.Lock()
	if a, ok := c.active[id]; ok && a.job.State == StateAdmitted {
		a.job.State = StateRunning
		c.bus.Publish(Event{Type: EventTypeProgress, JobID: id, Class: a.job.Class(), Stage: "running"})
	}
	c.mu.Unlock()
}

// Progress publishes a progress fraction for a job.
func (c *Controller) Progress(id string, class Class, stage string, fraction float64) {
	c.bus.Publish(Event{Type: EventTypeProgress, JobID: id, Class: class, Stage: stage, Fraction: fraction})
}

// CancelClass cancels every queued and active job of the class and sets
// the class flag so later submissions are rejected until ResetCancel.
// Active jobs get their contexts cancelled and any of their admission
// waiters parked in the governor are failed immediately.
func (c *Controller) CancelClass(class Class) {
	c.mu.Lock()
	c.cancelled[class] = true

	c.highQ = c.dropQueuedLocked(c.highQ, class)
	c.normalQ = c.dropQueuedLocked(c.normalQ, class)

	ids := make(map[string]bool)
	for id, a := range c.active {
		if a.job.Class() != class {
			continue
		}
		ids[id] = true
		if a.job.State == StateAdmitted || a.job.State == StateRunning {
			a.job.State = StateCancelling
		}
		a.cancel()
	}
	c.mu.Unlock()

	if len(ids) > 0 {
		n := c.resources.RejectMatching(func(jobID string) bool { return ids[jobID] })
		if n > 0 {
			logger.Debug("rejected parked admission waiters", "class", string(class), "count", n)
		}
	}
	logger.Info("class cancellation requested", "class", string(class), "inFlight", len(ids))
}

// ResetCancel clears the class flag and resets the governor so the next
// batch starts from a clean slate: full buckets, no pause, empty queues.
func (c *Controller) ResetCancel(class Class) {
	c.mu.Lock()
	c.cancelled[class] = false
	c.mu.Unlock()

	c.resources.Reset()

	c.mu.Lock()
	c.fillLocked()
	c.mu.Unlock()
}

// ClassCancelled reports whether the class flag is set.
func (c *Controller) ClassCancelled(class Class) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[class]
}

// SetMaxActive resizes the active cap. Growing it admits queued jobs
// immediately; shrinking never evicts running jobs.
func (c *Controller) SetMaxActive(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.maxActive = n
	c.fillLocked()
	c.mu.Unlock()
}

// Stats is a point-in-time controller snapshot.
type Stats struct {
	QueuedHigh   int
	QueuedNormal int
	Active       int
	MaxActive    int
}

// Snapshot returns current queue and slot occupancy.
func (c *Controller) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		QueuedHigh:   len(c.highQ),
		QueuedNormal: len(c.normalQ),
		Active:       len(c.active),
		MaxActive:    c.maxActive,
	}
}

// fillLocked admits queued jobs into free slots, HIGH before NORMAL,
// FIFO within each queue. Each admitted job runs on its own goroutine.
func (c *Controller) fillLocked() {
	for len(c.active) < c.maxActive {
		var job *FileJob
		switch {
		case len(c.highQ) > 0:
			job = c.highQ[0]
			c.highQ = c.highQ[1:]
		case len(c.normalQ) > 0:
			job = c.normalQ[0]
			c.normalQ = c.normalQ[1:]
		default:
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		job.State = StateAdmitted
		c.active[job.ID] = &activeJob{job: job, cancel: cancel}
		c.bus.Publish(Event{Type: EventTypeProgress, JobID: job.ID, Class: job.Class(), Stage: "admitted"})
		go c.dispatch(ctx, job)
	}
}

// dropQueuedLocked removes queued jobs of the class, marking each
// cancelled.
func (c *Controller) dropQueuedLocked(q []*FileJob, class Class) []*FileJob {
	kept := q[:0]
	for _, j := range q {
		if j.Class() != class {
			kept = append(kept, j)
			continue
		}
		j.State = StateCancelled
		j.Error = ErrClassCancelled.Error()
		c.finishLocked(j)
	}
	return kept
}

// finishLocked publishes the completion event, records history, and fires
// the phase signal when the job was the last of its class/phase pair.
func (c *Controller) finishLocked(job *FileJob) {
	job.CompletedAt = time.Now().UTC()
	c.bus.Publish(Event{
		Type:      EventTypeCompleted,
		JobID:     job.ID,
		Class:     job.Class(),
		Status:    job.State,
		OutputRef: job.OutputRef,
		Summary:   job.Summary,
		Err:       job.Error,
		Phase:     job.Type.Phase(),
	})
	if c.history != nil {
		if err := c.history.RecordJob(job); err != nil {
			logger.Warn("history record failed", "jobId", job.ID, "error", err)
		}
	}
	if !c.phasePendingLocked(job.Class(), job.Type.IsSummary()) {
		c.bus.Publish(Event{
			Type:   EventTypePhase,
			Class:  job.Class(),
			Signal: phaseSignal(job.Class(), job.Type.IsSummary()),
		})
	}
}

// phasePendingLocked reports whether any queued or active job still
// belongs to the class/phase pair.
func (c *Controller) phasePendingLocked(class Class, summary bool) bool {
	match := func(j *FileJob) bool {
		return j.Class() == class && j.Type.IsSummary() == summary
	}
	for _, j := range c.highQ {
		if match(j) {
			return true
		}
	}
	for _, j := range c.normalQ {
		if match(j) {
			return true
		}
	}
	for _, a := range c.active {
		if match(a.job) {
			return true
		}
	}
	return false
}

func phaseSignal(class Class, summary bool) string {
	switch {
	case class == ClassSRT && summary:
		return SignalSRTSummaryComplete
	case class == ClassSRT:
		return SignalSRTTranslateComplete
	case summary:
		return SignalVideoSummaryComplete
	default:
		return SignalVideoTranslateComplete
	}
}
