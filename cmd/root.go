package cmd

import (
	"os"

	"github.com/jaktapp/fieldauth/internal/config"
	"github.com/jaktapp/fieldauth/internal/logger"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fieldauth",
	Short: "fieldauth CLI",
	Long:  `fieldauth: session lifecycle core for the field app`,
}

func Execute(c *config.Config) {
	cfg = c
	logger.Info("Starting CLI", "env", cfg.AppEnv)
	if err := rootCmd.Execute(); err != nil {
		logger.Error("CLI error", "error", err)
		os.Exit(1)
	}
}
