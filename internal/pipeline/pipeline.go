// Package pipeline sequences the two phases of one logical input:
// an optional summarization job followed by the translation job that
// consumes its output.
package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rainlynd/srt-translator-sub001/internal/jobs"
	"github.com/rainlynd/srt-translator-sub001/internal/logger"
)

// Outcome is the terminal result of one logical input.
type Outcome struct {
	Ref        string
	JobID      string
	Status     jobs.State
	OutputPath string
	Err        string
}

type pendingFile struct {
	ref      string
	srt      string
	typ      jobs.Type // translation type
	priority jobs.Priority
	params   jobs.Params
}

// Coordinator drives a batch of inputs through summary and translation
// phases, consuming controller events to advance each file.
type Coordinator struct {
	ctl       *jobs.Controller
	bus       *jobs.Bus
	summarize bool

	mu               sync.Mutex
	pendingSummary   map[string]pendingFile
	pendingTranslate map[string]string // translate job id -> input ref
	outcomes         []Outcome
	remaining        int
	sealed           bool
	done             chan struct{}
	closed           bool

	events chan jobs.Event
}

// NewCoordinator creates a coordinator over a controller and its bus.
// summarize toggles the summary phase for every input.
func NewCoordinator(ctl *jobs.Controller, bus *jobs.Bus, summarize bool) *Coordinator {
	return &Coordinator{
		ctl:              ctl,
		bus:              bus,
		summarize:        summarize,
		pendingSummary:   make(map[string]pendingFile),
		pendingTranslate: make(map[string]string),
		done:             make(chan struct{}),
	}
}

// Start subscribes to controller events and begins advancing phases.
// The subscription is reliable: per-chunk progress events cannot crowd
// out the completion events the coordinator sequences on. Call Close
// when the batch is finished.
func (c *Coordinator) Start() {
	c.events = c.bus.SubscribeReliable()
	go c.loop()
}

// Close detaches from the bus. The loop drains buffered events and
// exits; pending phases stop advancing.
func (c *Coordinator) Close() {
	c.bus.Unsubscribe(c.events)
}

// SubmitFile enqueues one logical input. typ must be a translation type;
// the matching summary type is derived when summarization is on. The
// returned ID identifies the first phase's job.
func (c *Coordinator) SubmitFile(ref, srtText string, typ jobs.Type, params jobs.Params, priority jobs.Priority) (string, error) {
	id := uuid.New().String()
	file := pendingFile{ref: ref, srt: srtText, typ: typ, priority: priority, params: params}

	c.mu.Lock()
	c.remaining++
	if c.summarize {
		c.pendingSummary[id] = file
	} else {
		c.pendingTranslate[id] = ref
	}
	c.mu.Unlock()

	jobType := typ
	if c.summarize {
		if typ.Class() == jobs.ClassVideo {
			jobType = jobs.TypeVideoSummary
		} else {
			jobType = jobs.TypeSRTSummary
		}
	}
	_, err := c.ctl.Submit(&jobs.FileJob{
		ID:       id,
		InputRef: ref,
		Type:     jobType,
		SRT:      srtText,
		Params:   params,
		Priority: priority,
	})
	// Terminal rejection is reported through the bus as well; the loop
	// has already recorded the outcome by the time Submit returns.
	return id, err
}

// Seal marks the batch complete: no further SubmitFile calls. Wait can
// only fire after the batch is sealed, so a fast early file cannot end
// the batch while later files are still being submitted.
func (c *Coordinator) Seal() {
	c.mu.Lock()
	c.sealed = true
	finished := c.remaining == 0 && !c.closed
	if finished {
		c.closed = true
	}
	c.mu.Unlock()
	if finished {
		close(c.done)
	}
}

// Wait blocks until the batch is sealed and every submitted input has
// reached a terminal outcome.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcomes returns the terminal results recorded so far, in completion
// order.
func (c *Coordinator) Outcomes() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

func (c *Coordinator) loop() {
	for ev := range c.events {
		if ev.Type != jobs.EventTypeCompleted {
			continue
		}
		c.handleCompleted(ev)
	}
}

func (c *Coordinator) handleCompleted(ev jobs.Event) {
	c.mu.Lock()
	file, isSummary := c.pendingSummary[ev.JobID]
	if isSummary {
		delete(c.pendingSummary, ev.JobID)
	}
	ref, isTranslate := c.pendingTranslate[ev.JobID]
	if isTranslate {
		delete(c.pendingTranslate, ev.JobID)
	}
	c.mu.Unlock()

	switch {
	case isSummary:
		c.summaryDone(ev, file)
	case isTranslate:
		c.recordOutcome(Outcome{
			Ref:        ref,
			JobID:      ev.JobID,
			Status:     ev.Status,
			OutputPath: ev.OutputRef,
			Err:        ev.Err,
		})
	}
}

// summaryDone submits the translation phase, except when the batch was
// cancelled. A failed summary downgrades to an empty summary with a
// warning rather than failing the file.
func (c *Coordinator) summaryDone(ev jobs.Event, file pendingFile) {
	if ev.Status == jobs.StateCancelled || c.ctl.ClassCancelled(file.typ.Class()) {
		c.recordOutcome(Outcome{
			Ref:    file.ref,
			JobID:  ev.JobID,
			Status: jobs.StateCancelled,
			Err:    ev.Err,
		})
		return
	}

	summary := ev.Summary
	if ev.Status == jobs.StateFailed {
		logger.Warn("summary phase failed, translating without context summary",
			"input", file.ref, "error", ev.Err)
		summary = ""
	}

	id := uuid.New().String()
	c.mu.Lock()
	c.pendingTranslate[id] = file.ref
	c.mu.Unlock()

	if _, err := c.ctl.Submit(&jobs.FileJob{
		ID:       id,
		InputRef: file.ref,
		Type:     file.typ,
		SRT:      file.srt,
		Summary:  summary,
		Params:   file.params,
		Priority: file.priority,
	}); err != nil {
		logger.Warn("translation phase submit rejected", "input", file.ref, "error", err)
	}
}

func (c *Coordinator) recordOutcome(o Outcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.remaining--
	finished := c.sealed && c.remaining == 0 && !c.closed
	if finished {
		c.closed = true
	}
	c.mu.Unlock()
	if finished {
		close(c.done)
	}
}
