package governor_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rainlynd/srt-translator-sub001/internal/governor"
)

// virtualClock drives governor time in tests without real sleeps.
type virtualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*virtualTimer
}

type virtualTimer struct {
	clock    *virtualClock
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) AfterFunc(d time.Duration, f func()) governor.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &virtualTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *virtualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and fires due timers outside the clock lock.
func (c *virtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func newGovernor(clock *virtualClock, rpm, tpm int) *governor.Governor {
	return governor.New(rpm, tpm,
		governor.WithClock(clock.Now),
		governor.WithTimer(clock.AfterFunc))
}

func acquireAsync(g *governor.Governor, jobID string, est int) chan error {
	ch := make(chan error, 1)
	go func() { ch <- g.Acquire(context.Background(), jobID, est) }()
	return ch
}

// waitPending polls until the governor shows n queued requests.
func waitPending(t *testing.T, g *governor.Governor, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := g.Snapshot()
		if s.RPMPending+s.TPMPending == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pending requests, snapshot %+v", n, g.Snapshot())
}

func mustResolve(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not resolve")
		return nil
	}
}

func assertBlocked(t *testing.T, ch chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("acquire resolved unexpectedly: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAcquireChargesBothBuckets(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 10, 1000)

	// estTotal = ceil(100 * 2.5) = 250
	if err := g.Acquire(context.Background(), "job-1", 100); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	s := g.Snapshot()
	if s.RPMTokens != 9 {
		t.Errorf("expected 9 rpm tokens, got %v", s.RPMTokens)
	}
	if s.TPMTokens != 750 {
		t.Errorf("expected 750 tpm tokens, got %v", s.TPMTokens)
	}
}

func TestBucketBounds(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 2, 100)

	for i := 0; i < 2; i++ {
		if err := g.Acquire(context.Background(), "job", 10); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	s := g.Snapshot()
	if s.RPMTokens < 0 || s.TPMTokens < 0 {
		t.Errorf("bucket went negative: %+v", s)
	}

	// A long idle period must clamp the refill to the limits.
	clock.Advance(time.Hour)
	g.Release("job", 0, 0)
	s = g.Snapshot()
	if s.RPMTokens != 2 || s.TPMTokens != 100 {
		t.Errorf("refill should clamp to limits, got %+v", s)
	}
}

// One request per 60s of simulated time with RPM=1 and effectively
// unlimited TPM.
func TestRPMSerializesAdmissions(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 1, 1_000_000_000)

	// Bucket starts full: the first call is admitted immediately.
	if err := g.Acquire(context.Background(), "chunk-0", 100); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	second := acquireAsync(g, "chunk-1", 100)
	waitPending(t, g, 1)
	g.Release("chunk-0", 0, 0)
	assertBlocked(t, second)

	// 59s is not enough for a whole RPM token.
	clock.Advance(59 * time.Second)
	g.Release("tick", 0, 0)
	assertBlocked(t, second)

	clock.Advance(1 * time.Second)
	g.Release("tick", 0, 0)
	if err := mustResolve(t, second); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	// And the next one waits a further 60s again.
	third := acquireAsync(g, "chunk-2", 100)
	waitPending(t, g, 1)
	clock.Advance(60 * time.Second)
	g.Release("tick", 0, 0)
	if err := mustResolve(t, third); err != nil {
		t.Fatalf("third acquire: %v", err)
	}
}

func TestTPMQueueIsHeadOfLineBlocked(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 100, 1000)

	// Drain TPM with a big request: ceil(400*2.5) = 1000.
	if err := g.Acquire(context.Background(), "big-0", 400); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	big := acquireAsync(g, "big-1", 300) // needs 750
	waitPending(t, g, 1)
	small := acquireAsync(g, "small-1", 4) // needs 10, but queued behind big
	waitPending(t, g, 2)

	// 30s refills 500 TPM tokens: enough for small, not for the head.
	clock.Advance(30 * time.Second)
	g.Release("big-0", 0, 0)
	assertBlocked(t, big)
	assertBlocked(t, small)

	clock.Advance(30 * time.Second)
	g.Release("tick", 0, 0)
	if err := mustResolve(t, big); err != nil {
		t.Fatalf("big acquire: %v", err)
	}
	// Head admitted for 750 of 1000; 250 left covers small's 10.
	if err := mustResolve(t, small); err != nil {
		t.Fatalf("small acquire: %v", err)
	}
}

func TestGlobalPauseParksAcquirers(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 10, 10000)

	g.ActivatePause(5*time.Second, "job-429")

	s := g.Snapshot()
	if !s.Paused {
		t.Fatal("governor should be paused")
	}
	if want := clock.Now().Add(5 * time.Second); !s.PauseUntil.Equal(want) {
		t.Errorf("pauseUntil = %v, want %v", s.PauseUntil, want)
	}

	// Buckets are full, but the pause parks every acquirer.
	ch := acquireAsync(g, "job-a", 10)
	waitPending(t, g, 1)
	assertBlocked(t, ch)

	clock.Advance(5 * time.Second) // fires the resume timer
	if err := mustResolve(t, ch); err != nil {
		t.Fatalf("acquire after resume: %v", err)
	}
	if g.Snapshot().Paused {
		t.Error("pause should be cleared after resume")
	}
}

func TestActivatePauseKeepsLaterDeadline(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 10, 10000)

	g.ActivatePause(10*time.Second, "first")
	until := g.Snapshot().PauseUntil

	g.ActivatePause(2*time.Second, "second")
	if got := g.Snapshot().PauseUntil; !got.Equal(until) {
		t.Errorf("shorter pause must not shrink deadline: %v != %v", got, until)
	}

	g.ActivatePause(30*time.Second, "third")
	if got := g.Snapshot().PauseUntil; !got.After(until) {
		t.Errorf("longer pause should extend deadline: %v", got)
	}
}

func TestRejectMatching(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 1, 10000)

	if err := g.Acquire(context.Background(), "seed", 1); err != nil {
		t.Fatal(err)
	}
	srtWait := acquireAsync(g, "srt-1", 10)
	waitPending(t, g, 1)
	videoWait := acquireAsync(g, "video-1", 10)
	waitPending(t, g, 2)

	n := g.RejectMatching(func(jobID string) bool {
		return strings.HasPrefix(jobID, "srt-")
	})
	if n != 1 {
		t.Errorf("expected 1 rejection, got %d", n)
	}
	if err := mustResolve(t, srtWait); !errors.Is(err, governor.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	assertBlocked(t, videoWait)

	// The surviving waiter is admitted once a token refills.
	clock.Advance(60 * time.Second)
	g.Release("seed", 0, 0)
	if err := mustResolve(t, videoWait); err != nil {
		t.Fatalf("video acquire: %v", err)
	}
}

func TestResetFailsWaitersAndRefills(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 1, 100)

	if err := g.Acquire(context.Background(), "seed", 10); err != nil {
		t.Fatal(err)
	}
	waiting := acquireAsync(g, "late", 10)
	waitPending(t, g, 1)

	g.ActivatePause(time.Minute, "seed")
	g.Reset()

	if err := mustResolve(t, waiting); !errors.Is(err, governor.ErrStaleReset) {
		t.Errorf("expected ErrStaleReset, got %v", err)
	}

	s := g.Snapshot()
	if s.Paused {
		t.Error("reset should clear the pause")
	}
	if s.RPMTokens != 1 || s.TPMTokens != 100 {
		t.Errorf("reset should refill buckets, got %+v", s)
	}
	if s.RPMPending != 0 || s.TPMPending != 0 {
		t.Errorf("reset should empty queues, got %+v", s)
	}
}

func TestUpdateLimitsClampsDownward(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 10, 1000)

	g.UpdateLimits(2, 100)
	s := g.Snapshot()
	if s.RPMTokens != 2 || s.TPMTokens != 100 {
		t.Errorf("decrease should clamp tokens, got %+v", s)
	}

	// Increase does not mint tokens instantly.
	g.UpdateLimits(20, 2000)
	s = g.Snapshot()
	if s.RPMTokens != 2 || s.TPMTokens != 100 {
		t.Errorf("increase should not add tokens, got %+v", s)
	}

	// The time-based refill catches up under the new limits.
	clock.Advance(3 * time.Minute)
	g.Release("tick", 0, 0)
	s = g.Snapshot()
	if s.RPMTokens != 20 || s.TPMTokens != 2000 {
		t.Errorf("refill should reach new limits, got %+v", s)
	}
}

func TestReleaseDoesNotReturnTokens(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 10, 1000)

	if err := g.Acquire(context.Background(), "job", 100); err != nil {
		t.Fatal(err)
	}
	before := g.Snapshot()
	g.Release("job", 90, 300)
	after := g.Snapshot()

	if after.RPMTokens != before.RPMTokens || after.TPMTokens != before.TPMTokens {
		t.Errorf("release must not return tokens: %+v -> %+v", before, after)
	}
}

func TestAcquireContextCancellation(t *testing.T) {
	clock := newVirtualClock()
	g := newGovernor(clock, 1, 1000)

	if err := g.Acquire(context.Background(), "seed", 1); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- g.Acquire(ctx, "doomed", 1) }()
	waitPending(t, g, 1)

	cancel()
	if err := mustResolve(t, ch); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	s := g.Snapshot()
	if s.RPMPending != 0 || s.TPMPending != 0 {
		t.Errorf("cancelled waiter should be removed from queues, got %+v", s)
	}
}
