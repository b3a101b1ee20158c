package translate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rainlynd/srt-translator-sub001/internal/jobs"
	"github.com/rainlynd/srt-translator-sub001/internal/logger"
	"github.com/rainlynd/srt-translator-sub001/internal/srt"
)

// maxChunkConcurrency is effectively unbounded; real parallelism is
// limited by the rate governor's queues.
const maxChunkConcurrency = 9999

// ProgressFunc receives per-file progress updates, fraction in [0,1].
type ProgressFunc func(jobID string, fraction float64, stage string)

// Orchestrator coordinates one file's translation: parse, chunk, fan out
// chunk tasks, reassemble in order, write output.
type Orchestrator struct {
	translator *ChunkTranslator
	onProgress ProgressFunc

	// writeFile is a seam for tests; defaults to os.WriteFile.
	writeFile func(path string, data []byte) error
}

// NewOrchestrator creates an orchestrator over a chunk translator.
// onProgress may be nil.
func NewOrchestrator(tr *ChunkTranslator, onProgress ProgressFunc) *Orchestrator {
	return &Orchestrator{
		translator: tr,
		onProgress: onProgress,
		writeFile: func(path string, data []byte) error {
			return os.WriteFile(path, data, 0o644)
		},
	}
}

func (o *Orchestrator) progress(jobID string, fraction float64, stage string) {
	if o.onProgress != nil {
		o.onProgress(jobID, fraction, stage)
	}
}

// TranslateFile runs the whole per-file flow and returns the output path
// and terminal state. err is non-nil only for failed or cancelled
// outcomes.
func (o *Orchestrator) TranslateFile(ctx context.Context, job *jobs.FileJob) (string, jobs.State, error) {
	p := job.Params

	// Language match: copy the input verbatim instead of translating.
	if p.SourceLang != "" && p.TargetLang != "" && p.TargetLang != "none" &&
		strings.EqualFold(p.SourceLang, p.TargetLang) {
		out := copyOutputPath(job.InputRef)
		if err := o.writeFile(out, []byte(job.SRT)); err != nil {
			return "", jobs.StateFailed, fmt.Errorf("write output: %w", err)
		}
		logger.Info("source and target language match, copied input",
			"jobId", job.ID, "output", out)
		return out, jobs.StateSuccessNoTranslation, nil
	}

	entries, err := srt.ParseEntries(job.SRT)
	if err != nil {
		return "", jobs.StateFailed, err
	}

	chunks, err := srt.SplitChunks(entries, p.EntriesPerChunk)
	if err != nil {
		return "", jobs.StateFailed, err
	}
	o.progress(job.ID, 0, fmt.Sprintf("split into %d chunks", len(chunks)))

	prompt := BuildPrompt(BasePrompt, p.SourceLangName, p.TargetLangName, job.Summary, "")

	var (
		mu        sync.Mutex
		completed int
		firstErr  error
		critical  bool
	)
	results := make([][]srt.Entry, len(chunks))

	var g errgroup.Group
	g.SetLimit(maxChunkConcurrency)
	for k := range chunks {
		k := k
		mu.Lock()
		stop := critical
		mu.Unlock()
		if stop || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			mu.Lock()
			stop := critical
			mu.Unlock()
			if stop || ctx.Err() != nil {
				return nil
			}

			translated, err := o.translator.TranslateChunk(ctx, job.ID, prompt,
				chunks[k], srt.PrevContext(chunks, k), srt.NextContext(chunks, k), p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Already-running chunks finish; no new ones start.
				critical = true
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			results[k] = translated
			completed++
			o.progress(job.ID, float64(completed)/float64(len(chunks)), "translating")
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		return "", jobs.StateCancelled, ctx.Err()
	}
	mu.Lock()
	err = firstErr
	done := completed
	mu.Unlock()
	if err != nil {
		return "", jobs.StateFailed, err
	}
	if done != len(chunks) {
		return "", jobs.StateFailed, fmt.Errorf("only %d of %d chunks completed", done, len(chunks))
	}

	translated := make([]srt.Entry, 0, len(entries))
	for _, part := range results {
		translated = append(translated, part...)
	}
	out := translatedOutputPath(job.InputRef, p.TargetLang)
	if err := o.writeFile(out, []byte(srt.ComposeEntries(translated))); err != nil {
		return "", jobs.StateFailed, fmt.Errorf("write output: %w", err)
	}
	o.progress(job.ID, 1, "done")
	return out, jobs.StateSuccess, nil
}

// copyOutputPath is the language-match target: {dir}/{stem}.srt.
func copyOutputPath(inputRef string) string {
	dir := filepath.Dir(inputRef)
	return filepath.Join(dir, stem(inputRef)+".srt")
}

// translatedOutputPath is {dir}/{stem}-{tgt}.srt.
func translatedOutputPath(inputRef, tgt string) string {
	dir := filepath.Dir(inputRef)
	return filepath.Join(dir, stem(inputRef)+"-"+tgt+".srt")
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
