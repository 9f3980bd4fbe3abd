// Package cmd holds the CLI entry points of the service.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridflex/clpu/app"
	"github.com/gridflex/clpu/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "clpu",
	Short: "Cold load pickup mitigation service",
	Long: "Listens for MPC requests from the grid operator, solves the global " +
		"control problem for the site's flexible devices and enforces the " +
		"granted power limit in real time.",
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
