package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rainlynd/srt-translator-sub001/internal/jobs"
	"github.com/rainlynd/srt-translator-sub001/internal/logger"
	"github.com/rainlynd/srt-translator-sub001/internal/pipeline"
)

func newTranslateCommand(cctx *commandContext) *cobra.Command {
	var (
		targetFlag    string
		sourceFlag    string
		summaryFlag   bool
		retryFlag     bool
		chunkSizeFlag int
	)

	cmd := &cobra.Command{
		Use:   "translate <file.srt> [more.srt ...]",
		Short: "Translate subtitle files to the target language",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			if targetFlag != "" {
				cfg.TargetLanguage = targetFlag
			}
			if sourceFlag != "" {
				cfg.SourceLanguage = sourceFlag
			}
			if cmd.Flags().Changed("summarize") {
				cfg.EnableSummarization = summaryFlag
			}
			if chunkSizeFlag > 0 {
				cfg.EntriesPerChunk = chunkSizeFlag
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.coord.Start()
			defer a.coord.Close()

			// Interrupt cancels both classes; a second interrupt kills the
			// process via the restored default handler.
			batchDone := make(chan struct{})
			defer close(batchDone)
			go func() {
				select {
				case <-batchDone:
					return
				case <-ctx.Done():
				}
				stop()
				a.ctl.CancelClass(jobs.ClassSRT)
				a.ctl.CancelClass(jobs.ClassVideo)
			}()

			params := paramsFromConfig(cfg)
			priority := jobs.PriorityNormal
			if retryFlag {
				priority = jobs.PriorityHigh
			}

			submitted := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					logger.Error("read input failed", "path", path, "error", err)
					continue
				}
				if _, err := a.coord.SubmitFile(path, string(data), jobs.TypeSRTTranslate, params, priority); err != nil {
					logger.Error("submit rejected", "path", path, "error", err)
				}
				submitted++
			}
			a.coord.Seal()
			if submitted == 0 {
				return fmt.Errorf("no readable inputs among %d arguments", len(args))
			}

			if err := a.coord.Wait(context.Background()); err != nil {
				return err
			}

			outcomes := a.coord.Outcomes()
			fmt.Fprintln(cmd.OutOrStdout(), renderOutcomes(outcomes))
			if n := countFailed(outcomes); n > 0 {
				return fmt.Errorf("%d of %d files failed", n, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetFlag, "target", "t", "", "Target language code (overrides config)")
	cmd.Flags().StringVarP(&sourceFlag, "source", "s", "", "Source language code; empty auto-detects")
	cmd.Flags().BoolVar(&summaryFlag, "summarize", false, "Run a summary phase before translating")
	cmd.Flags().BoolVar(&retryFlag, "retry", false, "Submit at high priority (user-initiated retry)")
	cmd.Flags().IntVar(&chunkSizeFlag, "chunk-size", 0, "Entries per API call (overrides config)")

	return cmd
}

func countFailed(outcomes []pipeline.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == jobs.StateFailed {
			n++
		}
	}
	return n
}
