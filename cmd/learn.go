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

var learnForce bool

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Refresh the thermal dynamics model of the heating zones",
	RunE:  learn,
}

func init() {
	learnCmd.Flags().BoolVar(&learnForce, "force", false, "relearn even when the stored model is fresh")
	rootCmd.AddCommand(learnCmd)
}

func learn(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if learnForce {
		// A zero staleness treats any stored model as expired.
		cfg.Thermal.Staleness = 1
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Learn(ctx)
}
