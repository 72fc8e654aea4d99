package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fleet-dispatch/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "fleet-dispatch",
	Short:         "Delivery dispatch service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json); FD_ environment variables override it")
	rootCmd.AddCommand(serveCmd, sweepCmd, createAdminCmd, eventsCmd)
}

// withApp loads configuration, wires the service and runs fn until it
// returns or the process is interrupted.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
