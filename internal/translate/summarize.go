package translate

import (
	"context"

	"github.com/rainlynd/srt-translator-sub001/internal/jobs"
	"github.com/rainlynd/srt-translator-sub001/internal/logger"
	"github.com/rainlynd/srt-translator-sub001/internal/provider"
)

// Summarizer runs the summary phase for one file: a single governed API
// call over the whole subtitle text.
type Summarizer struct {
	broker Broker
	prov   provider.Provider
}

// NewSummarizer wires a summarizer to a governor slice and a provider.
func NewSummarizer(broker Broker, prov provider.Provider) *Summarizer {
	return &Summarizer{broker: broker, prov: prov}
}

// Summarize produces a context summary of the job's subtitle text. The
// call is admitted through the governor like any other outbound request.
func (s *Summarizer) Summarize(ctx context.Context, job *jobs.FileJob) (string, error) {
	p := job.Params

	estIn, err := s.prov.EstimateInputTokens(ctx, provider.EstimateRequest{
		Texts:      []string{job.SRT},
		TargetLang: p.TargetLang,
		ModelAlias: p.ModelName,
	})
	if err != nil {
		logger.Warn("summary token estimation failed, admitting on RPM only",
			"jobId", job.ID, "error", err)
		estIn = 0
	}

	if err := s.broker.Acquire(ctx, job.ID, estIn); err != nil {
		return "", err
	}
	defer s.broker.Release(job.ID, 0, 0)

	return s.prov.Summarize(ctx, provider.SummarizeRequest{
		Content:     job.SRT,
		TargetLang:  p.TargetLang,
		ModelAlias:  p.ModelName,
		Temperature: p.Temperature,
	})
}
