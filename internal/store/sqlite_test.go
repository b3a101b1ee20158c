package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rainlynd/srt-translator-sub001/internal/jobs"
	"github.com/rainlynd/srt-translator-sub001/internal/store"
)

func openStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "history.db"))

	now := time.Now().UTC()
	job := &jobs.FileJob{
		ID:          "j-1",
		InputRef:    "movie.srt",
		Type:        jobs.TypeSRTTranslate,
		State:       jobs.StateSuccess,
		OutputRef:   "movie-vi.srt",
		Params:      jobs.Params{TargetLang: "vi"},
		CreatedAt:   now.Add(-time.Minute),
		CompletedAt: now,
	}
	if err := s.RecordJob(job); err != nil {
		t.Fatalf("record: %v", err)
	}

	recs, err := s.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.ID != "j-1" || r.Status != jobs.StateSuccess || r.OutputRef != "movie-vi.srt" {
		t.Fatalf("record = %+v", r)
	}
	if r.Class != jobs.ClassSRT || r.TargetLang != "vi" {
		t.Fatalf("record = %+v, want srt class and vi target", r)
	}
}

func TestRecordIsUpsert(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "history.db"))

	job := &jobs.FileJob{ID: "j-1", InputRef: "a.srt", Type: jobs.TypeSRTSummary, State: jobs.StateFailed}
	if err := s.RecordJob(job); err != nil {
		t.Fatalf("record: %v", err)
	}
	job.State = jobs.StateSuccess
	if err := s.RecordJob(job); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	recs, err := s.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != jobs.StateSuccess {
		t.Fatalf("records = %+v, want single success row", recs)
	}
}

func TestTokenCountersSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s := openStore(t, path)
	if err := s.AddTokenUsage(100, 250); err != nil {
		t.Fatalf("add usage: %v", err)
	}
	if err := s.AddTokenUsage(50, 50); err != nil {
		t.Fatalf("add usage: %v", err)
	}
	if err := s.ResetSession(); err != nil {
		t.Fatalf("reset session: %v", err)
	}
	s.Close()

	s2 := openStore(t, path)
	sessionIn, sessionOut, lifetimeIn, lifetimeOut, err := s2.TokenUsage()
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if sessionIn != 0 || sessionOut != 0 {
		t.Fatalf("session = %d/%d, want zeroed", sessionIn, sessionOut)
	}
	if lifetimeIn != 150 || lifetimeOut != 300 {
		t.Fatalf("lifetime = %d/%d, want 150/300", lifetimeIn, lifetimeOut)
	}
}
