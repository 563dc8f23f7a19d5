package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lokutor-ai/speechd/internal/config"
	"github.com/lokutor-ai/speechd/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	activeCfg config.Config
	logger    *logging.ZerologAdapter
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speechd",
		Short: "Speech orchestration service: STT/TTS task lifecycle over a single service boundary",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			activeCfg = loaded

			lvl, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				lvl = zerolog.InfoLevel
			}
			logger = logging.New(os.Stderr, lvl)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCatalogCmd())

	return cmd
}
