// Package srt holds the subtitle entry model, the lexical parser and the
// chunking used to group entries into per-call batches.
package srt

import (
	"errors"
	"fmt"
)

// Sentinel errors for subtitle handling.
// These can be checked with errors.Is().
var (
	ErrParse            = errors.New("srt parse error")
	ErrEmptyInput       = errors.New("no subtitle entries")
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
)

// Entry is a single subtitle block.
type Entry struct {
	Index     string // numeric string, "1"-based
	Timestamp string // "HH:MM:SS,mmm --> HH:MM:SS,mmm"
	Text      string // payload lines joined with "\n"
	StartSec  float64
	EndSec    float64
	RawBlock  string // the block exactly as read, without the trailing blank line
}

// FormatTime converts seconds to the SRT "HH:MM:SS,mmm" form.
// Negative input clamps to zero.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	s := ms / 1000
	ms %= 1000
	m := s / 60
	s %= 60
	h := m / 60
	m %= 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
