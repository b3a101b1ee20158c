package main

import (
	"fmt"

	"github.com/spf13/cobra"

	subtrans "github.com/rainlynd/srt-translator-sub001"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the subtrans version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "subtrans %s\n", subtrans.Version)
		},
	}
}
