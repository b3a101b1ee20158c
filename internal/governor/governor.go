// Package governor arbitrates outbound API calls through two coupled token
// buckets (requests-per-minute and tokens-per-minute) plus a global pause
// driven by server-side 429 retry hints.
package governor

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rainlynd/srt-translator-sub001/internal/logger"
)

// Sentinel errors returned to waiting acquirers.
var (
	// ErrCancelled rejects a pending request removed by class cancellation.
	ErrCancelled = errors.New("api request cancelled")
	// ErrStaleReset rejects a pending request when a full state reset
	// occurs while the acquirer is waiting.
	ErrStaleReset = errors.New("api resources reset while waiting")
)

// DefaultOutputFactor scales estimated input tokens to the total charged
// against the TPM bucket (input + predicted output).
const DefaultOutputFactor = 2.5

type waiter struct {
	jobID    string
	estTotal float64
	ch       chan error // buffered, receives exactly one admit/reject
}

// Governor owns all process-wide API rate state. One mutex guards every
// field; no lock is ever held across a network call.
type Governor struct {
	mu sync.Mutex

	rpmLimit  float64
	tpmLimit  float64
	rpmTokens float64
	tpmTokens float64

	lastRPMRefill time.Time
	lastTPMRefill time.Time

	rpmQ []*waiter
	tpmQ []*waiter

	paused     bool
	pauseUntil time.Time
	pauseTimer Timer

	outputFactor float64

	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
}

// Timer is the stoppable handle returned by the scheduling hook.
type Timer interface {
	Stop() bool
}

// Option customizes the governor.
type Option func(*Governor)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
	}
}

// WithTimer overrides how the pause-resume timer is scheduled (useful for tests).
func WithTimer(afterFunc func(time.Duration, func()) Timer) Option {
	return func(g *Governor) {
		if afterFunc != nil {
			g.afterFunc = afterFunc
		}
	}
}

// New creates a governor with full buckets.
func New(rpmLimit, tpmLimit int, opts ...Option) *Governor {
	g := &Governor{
		rpmLimit:     float64(rpmLimit),
		tpmLimit:     float64(tpmLimit),
		outputFactor: DefaultOutputFactor,
		now:          time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	now := g.now()
	g.rpmTokens = g.rpmLimit
	g.tpmTokens = g.tpmLimit
	g.lastRPMRefill = now
	g.lastTPMRefill = now
	return g
}

// SetOutputFactor changes the input-to-total token multiplier.
// Non-positive values are ignored.
func (g *Governor) SetOutputFactor(f float64) {
	if f <= 0 {
		return
	}
	g.mu.Lock()
	g.outputFactor = f
	g.mu.Unlock()
}

// Acquire blocks until an API slot is granted or the request is rejected.
// One successful Acquire must be paired with exactly one Release.
func (g *Governor) Acquire(ctx context.Context, jobID string, estInputTokens int) error {
	if estInputTokens < 0 {
		estInputTokens = 0
	}

	g.mu.Lock()
	estTotal := math.Ceil(float64(estInputTokens) * g.outputFactor)
	now := g.now()

	// A global pause counts as "no RPM token available": park in rpmQ.
	if g.paused {
		if now.Before(g.pauseUntil) {
			w := &waiter{jobID: jobID, estTotal: estTotal, ch: make(chan error, 1)}
			g.rpmQ = append(g.rpmQ, w)
			g.mu.Unlock()
			return g.wait(ctx, w)
		}
		g.paused = false
	}

	g.refillLocked(now)

	if g.rpmTokens < 1 {
		w := &waiter{jobID: jobID, estTotal: estTotal, ch: make(chan error, 1)}
		g.rpmQ = append(g.rpmQ, w)
		g.mu.Unlock()
		return g.wait(ctx, w)
	}
	if g.tpmTokens < estTotal {
		w := &waiter{jobID: jobID, estTotal: estTotal, ch: make(chan error, 1)}
		g.tpmQ = append(g.tpmQ, w)
		g.mu.Unlock()
		return g.wait(ctx, w)
	}

	g.rpmTokens--
	g.tpmTokens -= estTotal
	g.mu.Unlock()
	return nil
}

// wait parks an enqueued acquirer until a drain admits it or a reset/cancel
// rejects it. Context cancellation removes the waiter from the queues.
func (g *Governor) wait(ctx context.Context, w *waiter) error {
	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		g.mu.Lock()
		removed := g.removeWaiterLocked(w)
		g.mu.Unlock()
		if removed {
			return ctx.Err()
		}
		// A resolution raced the cancellation; honour whatever was decided
		// so an admitted slot is still released by the caller's defer.
		return <-w.ch
	}
}

// Release relinquishes a slot. Tokens are not returned — the predictive
// estimate, not the actual usage, is what bounds the API — but the
// time-based refill runs and pending queues are drained.
func (g *Governor) Release(jobID string, actualIn, actualOut int) {
	_ = actualIn
	_ = actualOut
	g.mu.Lock()
	g.refillLocked(g.now())
	g.drainLocked()
	g.mu.Unlock()
}

// ActivatePause suspends all admissions for the given duration. A pause
// already extending past the requested deadline wins.
func (g *Governor) ActivatePause(d time.Duration, triggerID string) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	until := g.now().Add(d)
	if g.paused && g.pauseUntil.After(until) {
		g.mu.Unlock()
		return
	}
	g.paused = true
	g.pauseUntil = until
	if g.pauseTimer != nil {
		g.pauseTimer.Stop()
	}
	g.pauseTimer = g.afterFunc(d, g.ResumePause)
	g.mu.Unlock()

	logger.Warn("API admissions paused", "duration", d, "trigger_job", triggerID)
}

// ResumePause clears the pause flag and re-runs the queue drains.
func (g *Governor) ResumePause() {
	g.mu.Lock()
	wasPaused := g.paused
	g.paused = false
	g.refillLocked(g.now())
	g.drainLocked()
	g.mu.Unlock()

	if wasPaused {
		logger.Info("API admissions resumed")
	}
}

// RejectMatching removes pending requests whose job ID satisfies pred and
// fails their acquirers with ErrCancelled.
func (g *Governor) RejectMatching(pred func(jobID string) bool) int {
	g.mu.Lock()
	rejected := 0
	g.rpmQ, rejected = rejectQueue(g.rpmQ, pred, rejected)
	g.tpmQ, rejected = rejectQueue(g.tpmQ, pred, rejected)
	g.mu.Unlock()
	return rejected
}

func rejectQueue(q []*waiter, pred func(string) bool, rejected int) ([]*waiter, int) {
	kept := q[:0]
	for _, w := range q {
		if pred(w.jobID) {
			w.ch <- ErrCancelled
			rejected++
			continue
		}
		kept = append(kept, w)
	}
	return kept, rejected
}

// Reset performs a full API resource reset: every pending request is failed
// with ErrStaleReset, both buckets refill to capacity and any pause is
// cleared. Invoked on class-cancellation reset; note this also rejects
// waiters belonging to the other class.
func (g *Governor) Reset() {
	g.mu.Lock()
	for _, w := range g.rpmQ {
		w.ch <- ErrStaleReset
	}
	for _, w := range g.tpmQ {
		w.ch <- ErrStaleReset
	}
	g.rpmQ = nil
	g.tpmQ = nil

	now := g.now()
	g.rpmTokens = g.rpmLimit
	g.tpmTokens = g.tpmLimit
	g.lastRPMRefill = now
	g.lastTPMRefill = now

	g.paused = false
	if g.pauseTimer != nil {
		g.pauseTimer.Stop()
		g.pauseTimer = nil
	}
	g.mu.Unlock()

	logger.Info("API resources reset")
}

// UpdateLimits applies new bucket capacities at runtime. Decreases clamp the
// current bucket downward; increases rely on the time-based refill to catch
// up rather than minting tokens instantly.
func (g *Governor) UpdateLimits(rpmLimit, tpmLimit int) {
	g.mu.Lock()
	g.refillLocked(g.now())

	g.rpmLimit = float64(rpmLimit)
	g.tpmLimit = float64(tpmLimit)
	if g.rpmTokens > g.rpmLimit {
		g.rpmTokens = g.rpmLimit
	}
	if g.tpmTokens > g.tpmLimit {
		g.tpmTokens = g.tpmLimit
	}

	g.drainLocked()
	g.mu.Unlock()
}

// refillLocked applies the lazy time-based refill to both buckets and
// advances the refill timestamps, even when no tokens accrue.
func (g *Governor) refillLocked(now time.Time) {
	if elapsed := now.Sub(g.lastRPMRefill).Seconds(); elapsed > 0 {
		g.rpmTokens += elapsed * g.rpmLimit / 60
		if g.rpmTokens > g.rpmLimit {
			g.rpmTokens = g.rpmLimit
		}
	}
	g.lastRPMRefill = now

	if elapsed := now.Sub(g.lastTPMRefill).Seconds(); elapsed > 0 {
		g.tpmTokens += elapsed * g.tpmLimit / 60
		if g.tpmTokens > g.tpmLimit {
			g.tpmTokens = g.tpmLimit
		}
	}
	g.lastTPMRefill = now
}

// pausedLocked reports whether a pause is in force, clearing it when expired.
func (g *Governor) pausedLocked() bool {
	if !g.paused {
		return false
	}
	if g.now().Before(g.pauseUntil) {
		return true
	}
	g.paused = false
	return false
}

// drainLocked admits as many queued requests as the buckets allow. rpmQ
// heads short on TPM move to the tail of tpmQ; the tpmQ head blocks its
// queue to preserve FIFO.
func (g *Governor) drainLocked() {
	for len(g.rpmQ) > 0 && g.rpmTokens >= 1 && !g.pausedLocked() {
		head := g.rpmQ[0]
		g.rpmQ = g.rpmQ[1:]
		if g.tpmTokens >= head.estTotal {
			g.rpmTokens--
			g.tpmTokens -= head.estTotal
			head.ch <- nil
			continue
		}
		g.tpmQ = append(g.tpmQ, head)
	}

	for len(g.tpmQ) > 0 && g.rpmTokens >= 1 && g.tpmTokens > 0 && !g.pausedLocked() {
		head := g.tpmQ[0]
		if g.tpmTokens < head.estTotal {
			break
		}
		g.tpmQ = g.tpmQ[1:]
		g.rpmTokens--
		g.tpmTokens -= head.estTotal
		head.ch <- nil
	}
}

func (g *Governor) removeWaiterLocked(target *waiter) bool {
	for i, w := range g.rpmQ {
		if w == target {
			g.rpmQ = append(g.rpmQ[:i], g.rpmQ[i+1:]...)
			return true
		}
	}
	for i, w := range g.tpmQ {
		if w == target {
			g.tpmQ = append(g.tpmQ[:i], g.tpmQ[i+1:]...)
			return true
		}
	}
	return false
}

// Stats is a point-in-time snapshot of governor state, for status output
// and tests.
type Stats struct {
	RPMTokens  float64
	TPMTokens  float64
	RPMPending int
	TPMPending int
	Paused     bool
	PauseUntil time.Time
}

// Snapshot returns current bucket levels and queue depths.
func (g *Governor) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		RPMTokens:  g.rpmTokens,
		TPMTokens:  g.tpmTokens,
		RPMPending: len(g.rpmQ),
		TPMPending: len(g.tpmQ),
		Paused:     g.paused,
		PauseUntil: g.pauseUntil,
	}
}
