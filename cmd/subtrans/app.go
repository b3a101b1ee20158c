package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rainlynd/srt-translator-sub001/internal/config"
	"github.com/rainlynd/srt-translator-sub001/internal/governor"
	"github.com/rainlynd/srt-translator-sub001/internal/jobs"
	"github.com/rainlynd/srt-translator-sub001/internal/logger"
	"github.com/rainlynd/srt-translator-sub001/internal/pipeline"
	"github.com/rainlynd/srt-translator-sub001/internal/provider/gemini"
	"github.com/rainlynd/srt-translator-sub001/internal/store"
	"github.com/rainlynd/srt-translator-sub001/internal/translate"
)

// app owns the wired pipeline for one batch run. All cross-component
// wiring happens here, once.
type app struct {
	gov   *governor.Governor
	ctl   *jobs.Controller
	bus   *jobs.Bus
	coord *pipeline.Coordinator
	st    *store.SQLiteStore
}

// buildApp assembles governor, provider, executor, controller and
// coordinator from the config.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is not set; add it to the config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prov, err := gemini.New(ctx, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	gov := governor.New(cfg.RPM, cfg.TPMLimit)
	gov.SetOutputFactor(cfg.TPMOutputEstimationFactor)

	var st *store.SQLiteStore
	if cfg.HistoryDBPath != "" {
		st, err = store.NewSQLiteStore(cfg.HistoryDBPath)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		if err := st.ResetSession(); err != nil {
			logger.Warn("reset session counters failed", "error", err)
		}
	}

	// Token usage observed on release feeds the history counters.
	var broker translate.Broker = gov
	if st != nil {
		broker = &meteredBroker{gov: gov, st: st}
	}

	bus := jobs.NewBus()
	translator := translate.NewChunkTranslator(broker, prov)
	summarizer := translate.NewSummarizer(broker, prov)

	var ctl *jobs.Controller
	orch := translate.NewOrchestrator(translator, func(jobID string, fraction float64, stage string) {
		ctl.Progress(jobID, jobs.ClassSRT, stage, fraction)
	})

	exec := func(ctx context.Context, job *jobs.FileJob) {
		ctl.Running(job.ID)
		if job.Type.IsSummary() {
			summary, err := summarizer.Summarize(ctx, job)
			switch {
			case isCancellation(err):
				ctl.Completed(job.ID, jobs.StateCancelled, "", err.Error())
			case err != nil:
				ctl.Completed(job.ID, jobs.StateFailed, "", err.Error())
			default:
				job.Summary = summary
				ctl.Completed(job.ID, jobs.StateSuccess, "", "")
			}
			return
		}

		out, state, err := orch.TranslateFile(ctx, job)
		msg := ""
		if err != nil {
			msg = err.Error()
			if isCancellation(err) {
				state = jobs.StateCancelled
			}
		}
		ctl.Completed(job.ID, state, out, msg)
	}

	opts := []jobs.Option{}
	if st != nil {
		opts = append(opts, jobs.WithHistory(st))
	}
	ctl = jobs.NewController(cfg.EffectiveMaxActive(), gov, bus, exec, opts...)

	coord := pipeline.NewCoordinator(ctl, bus, cfg.EnableSummarization)
	return &app{gov: gov, ctl: ctl, bus: bus, coord: coord, st: st}, nil
}

func (a *app) close() {
	if a.st != nil {
		a.st.Close()
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, governor.ErrCancelled) ||
		errors.Is(err, governor.ErrStaleReset)
}

// meteredBroker forwards to the governor and records actual token usage
// in the history store on every release.
type meteredBroker struct {
	gov *governor.Governor
	st  *store.SQLiteStore
}

func (m *meteredBroker) Acquire(ctx context.Context, jobID string, est int) error {
	return m.gov.Acquire(ctx, jobID, est)
}

func (m *meteredBroker) Release(jobID string, actualIn, actualOut int) {
	m.gov.Release(jobID, actualIn, actualOut)
	if actualIn > 0 || actualOut > 0 {
		if err := m.st.AddTokenUsage(actualIn, actualOut); err != nil {
			logger.Warn("token usage record failed", "error", err)
		}
	}
}

func (m *meteredBroker) ActivatePause(d time.Duration, triggerID string) {
	m.gov.ActivatePause(d, triggerID)
}

// paramsFromConfig snapshots the knob bundle jobs are submitted with.
func paramsFromConfig(cfg *config.Config) jobs.Params {
	return jobs.Params{
		TargetLang:        cfg.TargetLanguage,
		TargetLangName:    languageName(cfg.TargetLanguage),
		SourceLang:        cfg.SourceLanguage,
		SourceLangName:    languageName(cfg.SourceLanguage),
		Temperature:       cfg.Temperature,
		TopP:              cfg.TopP,
		EntriesPerChunk:   cfg.EntriesPerChunk,
		ChunkRetries:      cfg.ChunkRetries,
		InitialRetryDelay: time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond,
		MaxRetryDelay:     time.Duration(cfg.MaxRetryDelayMs) * time.Millisecond,
		ThinkingBudget:    cfg.ThinkingBudget,
		ModelName:         cfg.ModelName,
		StrongerModelName: cfg.StrongerRetryModelName,
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "subtrans.yaml"
	}
	return filepath.Join(home, ".config", "subtrans", "config.yaml")
}
