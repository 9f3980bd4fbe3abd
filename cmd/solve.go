package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridflex/clpu/app"
	"github.com/gridflex/clpu/config"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/jobs"
)

var solveFlags struct {
	start      string
	duration   time.Duration
	interval   int
	price      float64
	peakPrice  float64
	limit      float64
	peakLimit  float64
	peakAfter  time.Duration
	noHeating  bool
	noStorage  bool
	noVehicles bool
	noWater    bool
}

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Run one MPC cycle immediately and push the schedule",
	RunE:  solveOnce,
}

func init() {
	f := solveCmd.Flags()
	f.StringVar(&solveFlags.start, "start", "", "horizon start (RFC3339, default now)")
	f.DurationVar(&solveFlags.duration, "duration", 2*time.Hour, "horizon span")
	f.IntVar(&solveFlags.interval, "interval", 10, "step length in minutes")
	f.Float64Var(&solveFlags.price, "price", 0.07, "energy price before the peak, per kWh")
	f.Float64Var(&solveFlags.peakPrice, "peak-price", 0.15, "energy price from the peak on, per kWh")
	f.Float64Var(&solveFlags.limit, "limit", 7, "grid power limit before the peak, kW")
	f.Float64Var(&solveFlags.peakLimit, "peak-limit", 15, "grid power limit from the peak on, kW")
	f.DurationVar(&solveFlags.peakAfter, "peak-after", 40*time.Minute, "offset of the price and limit step")
	f.BoolVar(&solveFlags.noHeating, "no-space-heating", false, "exclude space heating")
	f.BoolVar(&solveFlags.noStorage, "no-electric-storage", false, "exclude electric storage")
	f.BoolVar(&solveFlags.noVehicles, "no-electric-vehicle", false, "exclude electric vehicles")
	f.BoolVar(&solveFlags.noWater, "no-water-heater", false, "exclude water heaters")
	rootCmd.AddCommand(solveCmd)
}

func solveOnce(cmd *cobra.Command, args []string) error {
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
	defer svc.Close()

	start := time.Now().Truncate(time.Minute)
	if solveFlags.start != "" {
		start, err = time.Parse(time.RFC3339, solveFlags.start)
		if err != nil {
			return fmt.Errorf("bad start: %w", err)
		}
	}
	h := model.NewHorizon(start, start.Add(solveFlags.duration), solveFlags.interval)

	devices, err := svc.Snapshot(ctx)
	if err != nil {
		return err
	}
	flags := devices.Flags()
	if solveFlags.noHeating {
		flags.SpaceHeating = false
	}
	if solveFlags.noStorage {
		flags.ElectricStorage = false
	}
	if solveFlags.noVehicles {
		flags.ElectricVehicle = false
	}
	if solveFlags.noWater {
		flags.WaterHeater = false
	}

	return svc.Solve(ctx, jobs.CycleRequest{
		Horizon: h,
		Flags:   flags,
		Devices: devices,
		Prices:  stepProfile(h, solveFlags.price, solveFlags.peakPrice, solveFlags.peakAfter),
		Limits:  stepProfile(h, solveFlags.limit, solveFlags.peakLimit, solveFlags.peakAfter),
	})
}

// stepProfile builds a per step series that jumps from before to after at
// the given offset into the horizon.
func stepProfile(h model.Horizon, before, after float64, offset time.Duration) model.Series {
	times := h.StepTimes()
	values := make([]float64, len(times))
	for i, t := range times {
		if t.Sub(h.Start) < offset {
			values[i] = before
		} else {
			values[i] = after
		}
	}
	return model.Series{Times: times, Values: values}
}
