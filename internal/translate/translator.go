// Package translate implements per-chunk translation with bounded retries
// and the per-file orchestration that assembles translated chunks back
// into a subtitle file.
package translate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rainlynd/srt-translator-sub001/internal/config"
	"github.com/rainlynd/srt-translator-sub001/internal/jobs"
	"github.com/rainlynd/srt-translator-sub001/internal/logger"
	"github.com/rainlynd/srt-translator-sub001/internal/provider"
	"github.com/rainlynd/srt-translator-sub001/internal/srt"
)

// ErrCardinality reports a provider response whose item count does not
// match the chunk's entry count. It counts toward chunk retries.
var ErrCardinality = errors.New("translated item count does not match chunk size")

// ChunkError wraps the last error of a chunk whose retries are exhausted.
type ChunkError struct {
	Chunk    int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %v", e.Chunk, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Broker is the slice of the rate governor chunk calls need. Every
// successful Acquire is paired with exactly one Release on the caller's
// defer path.
type Broker interface {
	Acquire(ctx context.Context, jobID string, estInputTokens int) error
	Release(jobID string, actualIn, actualOut int)
	ActivatePause(d time.Duration, triggerID string)
}

// strongerAttemptFloor: escalation to the stronger model only kicks in
// past this attempt number.
const strongerAttemptFloor = 3

// ChunkTranslator runs the retry loop for single chunks.
type ChunkTranslator struct {
	broker Broker
	prov   provider.Provider

	// test seams
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// NewChunkTranslator wires a translator to a governor slice and a model
// provider.
func NewChunkTranslator(broker Broker, prov provider.Provider) *ChunkTranslator {
	return &ChunkTranslator{
		broker:    broker,
		prov:      prov,
		sleep:     sleepCtx,
		randFloat: rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TranslateChunk translates one chunk and returns the translated entries
// in order, keeping the original indices and timestamps. prompt is the
// file's effective prompt with all placeholders already substituted.
// Transient API errors and cardinality mismatches are retried up to
// p.ChunkRetries attempts; a 429 with a retry hint pauses the whole
// governor instead of backing off locally.
func (t *ChunkTranslator) TranslateChunk(ctx context.Context, jobID, prompt string, chunk srt.Chunk, prev, next []string, p jobs.Params) ([]srt.Entry, error) {
	texts := chunk.Texts()

	estIn, err := t.prov.EstimateInputTokens(ctx, provider.EstimateRequest{
		Texts:       texts,
		TargetLang:  p.TargetLang,
		Prompt:      prompt,
		EntryCount:  len(texts),
		PrevContext: prev,
		NextContext: next,
		ModelAlias:  p.ModelName,
		SourceLang:  p.SourceLang,
	})
	if err != nil {
		logger.Warn("token estimation failed, admitting on RPM only",
			"jobId", jobID, "chunk", chunk.Index, "error", err)
		estIn = 0
	}

	maxAttempts := p.ChunkRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.broker.Acquire(ctx, jobID, estIn); err != nil {
			return nil, err
		}

		model := p.ModelName
		budget := p.ThinkingBudget
		if attempt > strongerAttemptFloor && p.StrongerModelName != "" {
			model = p.StrongerModelName
			budget = config.ThinkingBudgetUnlimited
			logger.Info("escalating chunk to stronger model",
				"jobId", jobID, "chunk", chunk.Index, "attempt", attempt, "model", model)
		}

		res, callErr := t.prov.TranslateChunk(ctx, provider.TranslateRequest{
			Texts:          texts,
			TargetLang:     p.TargetLang,
			Prompt:         prompt,
			Temperature:    p.Temperature,
			TopP:           p.TopP,
			ExpectedCount:  len(texts),
			PrevContext:    prev,
			NextContext:    next,
			ThinkingBudget: budget,
			ModelAlias:     model,
			SourceLang:     p.SourceLang,
		})

		actualIn, actualOut := 0, 0
		if res != nil {
			actualIn, actualOut = res.ActualIn, res.ActualOut
		}
		t.broker.Release(jobID, actualIn, actualOut)

		if callErr == nil {
			if len(res.Items) != len(texts) {
				callErr = fmt.Errorf("%w: got %d, want %d", ErrCardinality, len(res.Items), len(texts))
			} else {
				return reconstruct(chunk, res.Items), nil
			}
		}
		lastErr = callErr

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == maxAttempts {
			break
		}

		var delay time.Duration
		if d, ok := provider.RetryDelayFrom(callErr); ok && provider.IsRateLimited(callErr) {
			delay = d
			t.broker.ActivatePause(d, jobID)
		} else {
			delay = t.backoff(attempt, p.InitialRetryDelay, p.MaxRetryDelay)
		}
		logger.Debug("chunk attempt failed, retrying",
			"jobId", jobID, "chunk", chunk.Index, "attempt", attempt,
			"delay", delay.String(), "error", callErr)
		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, &ChunkError{Chunk: chunk.Index, Attempts: maxAttempts, Err: lastErr}
}

// backoff computes exponential delay with jitter in [0.5, 1.5) of the
// capped exponential term.
func (t *ChunkTranslator) backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(max) {
		exp = float64(max)
	}
	jitter := 0.5 + t.randFloat()
	return time.Duration(math.Floor(exp * jitter))
}

// reconstruct pairs the translated texts back with the chunk's original
// indices and timestamps.
func reconstruct(chunk srt.Chunk, items []provider.Item) []srt.Entry {
	entries := make([]srt.Entry, len(chunk.Entries))
	for i, e := range chunk.Entries {
		entries[i] = srt.Entry{
			Index:     e.Index,
			Timestamp: e.Timestamp,
			Text:      strings.TrimSpace(items[i].Text),
			StartSec:  e.StartSec,
			EndSec:    e.EndSec,
		}
	}
	return entries
}
