package jobs

import (
	"sync"
	"time"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeProgress  EventType = "progress"
	EventTypeLog       EventType = "log"
	EventTypeCompleted EventType = "completed"
	// EventTypePhase fires once when the last active-or-queued job of a
	// class/phase pair drains; Signal carries the combined name. Per-job
	// phase results (summary text, output path) ride the job's completed
	// event, which also names the phase it finished; the drain signal is
	// a class-wide notification with no per-job payload.
	EventTypePhase EventType = "phase"
)

// Phase completion signal names, one per class/phase pair.
const (
	SignalSRTSummaryComplete     = "srt_summary_complete"
	SignalSRTTranslateComplete   = "srt_translate_complete"
	SignalVideoSummaryComplete   = "video_summary_complete"
	SignalVideoTranslateComplete = "video_translate_complete"
)

// Event is the payload pushed to subscribers. Fields beyond Type and
// JobID are populated per event type.
type Event struct {
	Type      EventType
	Timestamp time.Time

	JobID string
	Class Class

	// progress
	Stage    string
	Fraction float64

	// log
	Level   string
	Message string

	// completed
	Status    State
	OutputRef string
	Summary   string
	Err       string
	Phase     string // "summary" or "translate"

	// phase
	Signal string
}

// Bus fans events out to subscribers. Subscribe gives a lossy buffered
// channel that drops events when full, which suits observers such as
// progress displays. SubscribeReliable gives a channel backed by an
// unbounded queue: nothing is ever dropped, so consumers that sequence
// work off events (the phase coordinator) cannot miss a completion.
type Bus struct {
	mu       sync.Mutex
	lossy    map[chan Event]struct{}
	reliable map[chan Event]*relay
}

// relay buffers events for one reliable subscriber. Publish appends
// under the relay lock and never blocks; a pump goroutine drains the
// queue into the subscriber channel.
type relay struct {
	mu     sync.Mutex
	queue  []Event
	wake   chan struct{} // capacity 1
	closed bool
}

func (r *relay) push(ev Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, ev)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *relay) pump(out chan Event) {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			if r.closed {
				r.mu.Unlock()
				close(out)
				return
			}
			r.mu.Unlock()
			<-r.wake
			continue
		}
		ev := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		out <- ev
	}
}

func (r *relay) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		lossy:    make(map[chan Event]struct{}),
		reliable: make(map[chan Event]*relay),
	}
}

// Subscribe registers a buffered channel that receives subsequent events
// on a best-effort basis: when the buffer is full, events are dropped
// rather than stalling job execution. Call Unsubscribe when done.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.lossy[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// SubscribeReliable registers a channel that receives every subsequent
// event in order, however slowly it is read. The consumer must keep
// draining the channel until it is closed by Unsubscribe.
func (b *Bus) SubscribeReliable() chan Event {
	out := make(chan Event, 64)
	r := &relay{wake: make(chan struct{}, 1)}
	b.mu.Lock()
	b.reliable[out] = r
	b.mu.Unlock()
	go r.pump(out)
	return out
}

// Unsubscribe removes a channel returned by Subscribe or
// SubscribeReliable. The channel is closed once delivered events are
// drained (immediately for lossy subscribers).
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.lossy[ch]; ok {
		delete(b.lossy, ch)
		close(ch)
		b.mu.Unlock()
		return
	}
	r, ok := b.reliable[ch]
	delete(b.reliable, ch)
	b.mu.Unlock()
	if ok {
		r.close()
	}
}

// Publish delivers the event to all current subscribers. It never
// blocks.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	for ch := range b.lossy {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, r := range b.reliable {
		r.push(ev)
	}
	b.mu.Unlock()
}
