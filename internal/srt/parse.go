package srt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var timestampRe = regexp.MustCompile(
	`^(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})$`)

// ParseEntries lexes raw SRT text into entries. CRLF and LF inputs are
// accepted; blocks are separated by one or more blank lines. A block is an
// index line, a timestamp line, and at least one text line.
func ParseEntries(raw string) ([]Entry, error) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.TrimPrefix(normalized, "\uFEFF")

	var entries []Entry
	for _, block := range splitBlocks(normalized) {
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			return nil, fmt.Errorf("%w: truncated block %q", ErrParse, block)
		}

		index := strings.TrimSpace(lines[0])
		if _, err := strconv.Atoi(index); err != nil {
			return nil, fmt.Errorf("%w: bad index line %q", ErrParse, lines[0])
		}

		timestamp := strings.TrimSpace(lines[1])
		start, end, err := parseTimestamp(timestamp)
		if err != nil {
			return nil, err
		}

		text := strings.Join(lines[2:], "\n")
		entries = append(entries, Entry{
			Index:     index,
			Timestamp: timestamp,
			Text:      text,
			StartSec:  start,
			EndSec:    end,
			RawBlock:  block,
		})
	}

	if len(entries) == 0 {
		return nil, ErrEmptyInput
	}
	return entries, nil
}

// ComposeEntries renders entries back to SRT text, one blank line between
// blocks and a trailing blank line after the last.
func ComposeEntries(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Index)
		b.WriteString("\n")
		b.WriteString(e.Timestamp)
		b.WriteString("\n")
		b.WriteString(e.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

func splitBlocks(text string) []string {
	var blocks []string
	for _, chunk := range strings.Split(text, "\n\n") {
		trimmed := strings.Trim(chunk, "\n")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		blocks = append(blocks, trimmed)
	}
	return blocks
}

func parseTimestamp(line string) (float64, float64, error) {
	m := timestampRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: bad timestamp line %q", ErrParse, line)
	}
	start := timestampSeconds(m[1], m[2], m[3], m[4])
	end := timestampSeconds(m[5], m[6], m[7], m[8])
	if start > end {
		return 0, 0, fmt.Errorf("%w: start after end in %q", ErrParse, line)
	}
	return start, end, nil
}

func timestampSeconds(h, m, s, ms string) float64 {
	// Fields already matched \d+ so Atoi cannot fail.
	hi, _ := strconv.Atoi(h)
	mi, _ := strconv.Atoi(m)
	si, _ := strconv.Atoi(s)
	msi, _ := strconv.Atoi(ms)
	return float64(hi)*3600 + float64(mi)*60 + float64(si) + float64(msi)/1000
}
