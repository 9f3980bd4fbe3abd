package mpc

import (
	"context"
	"fmt"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/solver"
)

// Executor runs one full control cycle: assemble the global problem over
// the horizon and solve it.
type Executor struct {
	builder *Builder
	log     logger.Logger
}

// NewExecutor creates an executor over a builder.
func NewExecutor(builder *Builder, log logger.Logger) *Executor {
	return &Executor{builder: builder, log: log}
}

// Result is one solved cycle. The solution status travels with the result
// so the interpreter and the session logic can react to it.
type Result struct {
	Built    *Built
	Solution *solver.Solution
}

// Run builds and solves the problem. A solve that finishes without a usable
// solution returns the partial result together with a solver failure error.
func (e *Executor) Run(ctx context.Context, h model.Horizon, flags model.DeviceFlags, prices, limits model.Series) (*Result, error) {
	built, err := e.builder.Build(ctx, h, flags, prices, limits)
	if err != nil {
		return nil, err
	}

	e.log.Infof("solving control problem over %d steps of %s", h.Steps(), h.Interval)
	sol, err := built.Problem.Solve()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSolverFailure, err)
	}
	e.log.Debugw("solver finished", map[string]any{
		"status":     sol.Status.String(),
		"objective":  sol.Objective,
		"iterations": sol.Iterations,
		"runtime":    sol.Runtime.String(),
	})

	res := &Result{Built: built, Solution: sol}
	if !sol.Status.SolutionPresent() {
		e.log.Errorf("solver returned status %s, no schedule will be produced", sol.Status)
		return res, fmt.Errorf("%w: solver status %s", model.ErrSolverFailure, sol.Status)
	}
	e.log.Infof("solved in %s with objective %.4f", sol.Runtime, sol.Objective)
	return res, nil
}
