package main

import (
	"github.com/spf13/cobra"

	"github.com/rainlynd/srt-translator-sub001/internal/config"
	"github.com/rainlynd/srt-translator-sub001/internal/logger"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string
	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "subtrans",
		Short:         "Batch subtitle translation under API rate limits",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if logLevelFlag != "" {
				cfg.LogLevel = logLevelFlag
			}
			logger.Init(cfg.LogLevel)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", defaultConfigPath(), "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(newTranslateCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

type commandContext struct {
	configFlag *string
	config     *config.Config
	configErr  error
	loaded     bool
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if !c.loaded {
		c.config, c.configErr = config.Load(*c.configFlag)
		c.loaded = true
	}
	return c.config, c.configErr
}
