package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jaktapp/fieldauth/internal/app"
	"github.com/jaktapp/fieldauth/internal/logger"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"start"},
	Short:   "Run the session machine headless",
	Long:    `Starts the authentication session machine without a UI and logs every state transition. Useful for exercising a provider configuration from the command line.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(cfg, app.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = a.Store.Close() }()
		a.Start(ctx)

		ch, cancel := a.Auth.Subscribe()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				return nil
			case s := <-ch:
				logger.Info("session state", "state", s.State)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
