package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rainlynd/srt-translator-sub001/internal/store"
)

func newHistoryCommand(cctx *commandContext) *cobra.Command {
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent job outcomes and token usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.HistoryDBPath == "" {
				return fmt.Errorf("history_db_path is not set in the config")
			}

			st, err := store.NewSQLiteStore(cfg.HistoryDBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.Recent(limitFlag)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No recorded jobs.")
			} else {
				fmt.Fprintln(out, renderHistory(recs))
			}

			sessionIn, sessionOut, lifetimeIn, lifetimeOut, err := st.TokenUsage()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Tokens  session: %d in / %d out  lifetime: %d in / %d out\n",
				sessionIn, sessionOut, lifetimeIn, lifetimeOut)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "Maximum rows to show")
	return cmd
}
