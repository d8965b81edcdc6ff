package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"corpusbot/internal/config"
)

var (
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "corpusbot",
	Short: "Telegram bot that collects Sri Lanka training data",
	Long: `corpusbot turns chat messages, uploaded documents and web pages into
{prompt, response, labels} training records using a chain of text
generators, and appends them to a JSON Lines corpus.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yml", "path to the YAML config file")

	rootCmd.AddCommand(serveCmd, processCmd, importCmd, searchCmd, corpusCmd)
	corpusCmd.AddCommand(corpusCountCmd, corpusClearCmd, corpusExportCmd, corpusReconcileCmd, corpusRepairCmd)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
