package scheduler

import (
	"context"

	"github.com/tillerbot/tiller/internal/cycles"
	"github.com/tillerbot/tiller/internal/portfolio"
)

// CycleRefreshJob refreshes the market-cycle adaptations.
type CycleRefreshJob struct {
	Strategy *cycles.Manager
}

func (j *CycleRefreshJob) Name() string { return "cycle_refresh" }

func (j *CycleRefreshJob) Run(ctx context.Context) error {
	j.Strategy.Update(ctx, false)
	return nil
}

// PortfolioCheckJob runs one drift-and-schedule rebalance check.
type PortfolioCheckJob struct {
	Manager *portfolio.Manager
}

func (j *PortfolioCheckJob) Name() string { return "portfolio_check" }

func (j *PortfolioCheckJob) Run(ctx context.Context) error {
	_, err := j.Manager.CheckAndRebalance(ctx, false)
	return err
}
