package jobs

import (
	"time"
)

// Type identifies what kind of work a job carries.
type Type string

const (
	TypeSRTTranslate   Type = "srt_translate"
	TypeSRTSummary     Type = "srt_summary"
	TypeVideoTranslate Type = "video_translate"
	TypeVideoSummary   Type = "video_summary"
)

// Class is the coarse cancellation grouping derived from Type.
type Class string

const (
	ClassSRT   Class = "srt"
	ClassVideo Class = "video"
)

// Class maps a job type to its cancellation class.
func (t Type) Class() Class {
	switch t {
	case TypeVideoTranslate, TypeVideoSummary:
		return ClassVideo
	default:
		return ClassSRT
	}
}

// IsSummary reports whether the type belongs to the summarization phase.
func (t Type) IsSummary() bool {
	return t == TypeSRTSummary || t == TypeVideoSummary
}

// Phase returns the pipeline phase name for completion events.
func (t Type) Phase() string {
	if t.IsSummary() {
		return "summary"
	}
	return "translate"
}

// Priority orders admission. HIGH is used for user-initiated retries.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// State is the job lifecycle. Transitions are strictly monotonic except
// that a queued job may be cancelled directly.
type State string

const (
	StateQueued     State = "queued"
	StateAdmitted   State = "admitted"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateSuccess    State = "success"
	// StateSuccessNoTranslation marks the language-match short-circuit:
	// the input was copied verbatim instead of translated.
	StateSuccessNoTranslation State = "success_no_translation_needed"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// IsTerminal returns true if the state admits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateSuccessNoTranslation, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// validTransition enforces the allowed state machine edges.
func validTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateAdmitted || to == StateCancelled
	case StateAdmitted:
		return to == StateRunning || to == StateCancelling || to.IsTerminal()
	case StateRunning:
		return to == StateCancelling || to.IsTerminal()
	case StateCancelling:
		return to.IsTerminal()
	default:
		return false
	}
}

// Params is the immutable knob bundle captured at submission. In-flight
// jobs keep the bundle they were submitted with.
type Params struct {
	TargetLang     string
	TargetLangName string
	SourceLang     string // empty means auto-detect
	SourceLangName string
	Temperature    float64
	TopP           float64

	EntriesPerChunk   int
	ChunkRetries      int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration

	ThinkingBudget    int
	ModelName         string
	StrongerModelName string
}

// FileJob is the unit of admission. It is created by a submitter, owned by
// the controller once enqueued, and dropped after completion fires.
type FileJob struct {
	ID       string
	InputRef string // usually a path; opaque to the controller
	Type     Type
	SRT      string // raw subtitle text
	Summary  string // produced by a preceding summary phase, may be empty
	Params   Params
	Priority Priority
	State    State

	OutputRef string
	Error     string

	CreatedAt   time.Time
	CompletedAt time.Time
}

// Class returns the job's cancellation class.
func (j *FileJob) Class() Class {
	return j.Type.Class()
}
