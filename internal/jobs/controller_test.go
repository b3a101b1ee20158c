package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rainlynd/srt-translator-sub001/internal/jobs"
)

const sampleSRT = "1\n00:00:01,000 --> 00:00:02,000\nhello there\n\n2\n00:00:03,000 --> 00:00:04,000\ngeneral greeting\n"

type fakeResources struct {
	mu       sync.Mutex
	rejected []string
	resets   int
	pred     func(string) bool
}

func (f *fakeResources) RejectMatching(pred func(jobID string) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pred = pred
	return 0
}

func (f *fakeResources) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeResources) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

type dispatched struct {
	job *jobs.FileJob
	ctx context.Context
}

// recordingDispatch captures admitted jobs without executing anything.
// Tests drive Completed themselves.
func recordingDispatch(ch chan dispatched) jobs.DispatchFunc {
	return func(ctx context.Context, job *jobs.FileJob) {
		ch <- dispatched{job: job, ctx: ctx}
	}
}

func nextDispatch(t *testing.T, ch chan dispatched) dispatched {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no job dispatched")
		return dispatched{}
	}
}

func assertNoDispatch(t *testing.T, ch chan dispatched) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected dispatch of job %s", d.job.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitEvent(t *testing.T, ch chan jobs.Event, match func(jobs.Event) bool) jobs.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("expected event not observed")
		}
	}
}

func newJob(typ jobs.Type, prio jobs.Priority) *jobs.FileJob {
	return &jobs.FileJob{
		InputRef: "in.srt",
		Type:     typ,
		SRT:      sampleSRT,
		Priority: prio,
	}
}

func TestSubmitDispatchFIFO(t *testing.T) {
	ch := make(chan dispatched, 8)
	ctl := jobs.NewController(1, &fakeResources{}, jobs.NewBus(), recordingDispatch(ch))

	idA, err := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal))
	if err != nil {
		t.Fatalf("submit A: %v", err)
	}
	idB, err := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal))
	if err != nil {
		t.Fatalf("submit B: %v", err)
	}

	first := nextDispatch(t, ch)
	if first.job.ID != idA {
		t.Fatalf("dispatched %s first, want %s", first.job.ID, idA)
	}
	assertNoDispatch(t, ch)

	if err := ctl.Completed(idA, jobs.StateSuccess, "out.srt", ""); err != nil {
		t.Fatalf("complete A: %v", err)
	}
	second := nextDispatch(t, ch)
	if second.job.ID != idB {
		t.Fatalf("dispatched %s second, want %s", second.job.ID, idB)
	}
}

func TestHighPriorityAdmittedBeforeNormal(t *testing.T) {
	ch := make(chan dispatched, 8)
	ctl := jobs.NewController(1, &fakeResources{}, jobs.NewBus(), recordingDispatch(ch))

	running, _ := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal))
	nextDispatch(t, ch)

	normalID, _ := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal))
	highID, _ := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityHigh))

	if err := ctl.Completed(running, jobs.StateSuccess, "", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if d := nextDispatch(t, ch); d.job.ID != highID {
		t.Fatalf("dispatched %s at boundary, want high-priority %s", d.job.ID, highID)
	}
	if err := ctl.Completed(highID, jobs.StateSuccess, "", ""); err != nil {
		t.Fatalf("complete high: %v", err)
	}
	if d := nextDispatch(t, ch); d.job.ID != normalID {
		t.Fatalf("dispatched %s last, want %s", d.job.ID, normalID)
	}
}

func TestSubmitRejectsUnparsablePayload(t *testing.T) {
	bus := jobs.NewBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	ch := make(chan dispatched, 1)
	ctl := jobs.NewController(1, &fakeResources{}, bus, recordingDispatch(ch))

	job := newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal)
	job.SRT = "not a subtitle file"
	id, err := ctl.Submit(job)
	if err == nil {
		t.Fatal("expected parse error")
	}

	ev := waitEvent(t, events, func(e jobs.Event) bool {
		return e.Type == jobs.EventTypeCompleted && e.JobID == id
	})
	if ev.Status != jobs.StateFailed {
		t.Fatalf("status = %s, want %s", ev.Status, jobs.StateFailed)
	}
	assertNoDispatch(t, ch)
}

func TestSubmitRejectsEmptyPayload(t *testing.T) {
	bus := jobs.NewBus()
	ch := make(chan dispatched, 1)
	ctl := jobs.NewController(1, &fakeResources{}, bus, recordingDispatch(ch))

	job := newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal)
	job.SRT = ""
	if _, err := ctl.Submit(job); !errors.Is(err, jobs.ErrEmptySubtitle) {
		t.Fatalf("err = %v, want ErrEmptySubtitle", err)
	}
	assertNoDispatch(t, ch)
}

func TestCancelClass(t *testing.T) {
	bus := jobs.NewBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	res := &fakeResources{}
	ch := make(chan dispatched, 8)
	ctl := jobs.NewController(2, res, bus, recordingDispatch(ch))

	activeA, _ := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal))
	activeB, _ := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal))
	dA := nextDispatch(t, ch)
	dB := nextDispatch(t, ch)

	queuedSRT, _ := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal))
	queuedVideo, _ := ctl.Submit(newJob(jobs.TypeVideoTranslate, jobs.PriorityNormal))

	ctl.CancelClass(jobs.ClassSRT)

	// Queued SRT job is terminally cancelled without ever running.
	ev := waitEvent(t, events, func(e jobs.Event) bool {
		return e.Type == jobs.EventTypeCompleted && e.JobID == queuedSRT
	})
	if ev.Status != jobs.StateCancelled {
		t.Fatalf("queued job status = %s, want %s", ev.Status, jobs.StateCancelled)
	}

	// Active SRT jobs see their contexts cancelled.
	for _, d := range []dispatched{dA, dB} {
		select {
		case <-d.ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("context for %s not cancelled", d.job.ID)
		}
	}

	// The governor predicate targets exactly the in-flight SRT jobs.
	res.mu.Lock()
	pred := res.pred
	res.mu.Unlock()
	if pred == nil {
		t.Fatal("RejectMatching was not called")
	}
	if !pred(activeA) || !pred(activeB) {
		t.Fatal("predicate must match active SRT jobs")
	}
	if pred(queuedSRT) || pred(queuedVideo) {
		t.Fatal("predicate must not match queued jobs")
	}

	// New submissions of the class are rejected until reset.
	if _, err := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal)); err != jobs.ErrClassCancelled {
		t.Fatalf("submit while cancelled: err = %v, want ErrClassCancelled", err)
	}

	// The other class is untouched: after the active SRT jobs drain their
	// slots, the queued video job runs.
	if err := ctl.Completed(activeA, jobs.StateCancelled, "", "cancelled"); err != nil {
		t.Fatalf("complete A: %v", err)
	}
	if d := nextDispatch(t, ch); d.job.ID != queuedVideo {
		t.Fatalf("dispatched %s, want video job %s", d.job.ID, queuedVideo)
	}

	ctl.ResetCancel(jobs.ClassSRT)
	if res.resetCount() != 1 {
		t.Fatalf("governor resets = %d, want 1", res.resetCount())
	}
	if _, err := ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal)); err != nil {
		t.Fatalf("submit after reset: %v", err)
	}
}

func TestPhaseSignalFiresWhenClassPhaseDrains(t *testing.T) {
	bus := jobs.NewBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	ch := make(chan dispatched, 8)
	ctl := jobs.NewController(2, &fakeResources{}, bus, recordingDispatch(ch))

	idA, _ := ctl.Submit(newJob(jobs.TypeSRTSummary, jobs.PriorityNormal))
	idB, _ := ctl.Submit(newJob(jobs.TypeSRTSummary, jobs.PriorityNormal))
	nextDispatch(t, ch)
	nextDispatch(t, ch)

	if err := ctl.Completed(idA, jobs.StateSuccess, "", ""); err != nil {
		t.Fatalf("complete A: %v", err)
	}
	// B is still active, so the phase must not report complete yet.
	waitEvent(t, events, func(e jobs.Event) bool {
		if e.Type == jobs.EventTypePhase {
			t.Fatalf("premature phase signal %s", e.Signal)
		}
		return e.Type == jobs.EventTypeCompleted && e.JobID == idA
	})

	if err := ctl.Completed(idB, jobs.StateSuccess, "", ""); err != nil {
		t.Fatalf("complete B: %v", err)
	}
	ev := waitEvent(t, events, func(e jobs.Event) bool { return e.Type == jobs.EventTypePhase })
	if ev.Signal != jobs.SignalSRTSummaryComplete {
		t.Fatalf("signal = %s, want %s", ev.Signal, jobs.SignalSRTSummaryComplete)
	}
}

func TestSetMaxActiveGrowsAdmissions(t *testing.T) {
	ch := make(chan dispatched, 8)
	ctl := jobs.NewController(1, &fakeResources{}, jobs.NewBus(), recordingDispatch(ch))

	ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal))
	ctl.Submit(newJob(jobs.TypeSRTTranslate, jobs.PriorityNormal))
	nextDispatch(t, ch)
	assertNoDispatch(t, ch)

	ctl.SetMaxActive(2)
	nextDispatch(t, ch)

	st := ctl.Snapshot()
	if st.Active != 2 || st.MaxActive != 2 {
		t.Fatalf("snapshot = %+v, want 2 active of 2", st)
	}
}
