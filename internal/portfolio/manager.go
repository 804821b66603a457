package portfolio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/cycles"
	"github.com/tillerbot/tiller/internal/domain"
)

// scheduledRebalanceCooldown prevents a scheduled-hour rebalance from firing
// on every check tick within the same hour.
const scheduledRebalanceCooldown = time.Hour

// Summary is the operator-facing portfolio report.
type Summary struct {
	TotalValue        float64            `json:"total_value"`
	CashBalance       float64            `json:"cash_balance"`
	CurrentAllocation map[string]float64 `json:"current_allocation"`
	TargetAllocation  map[string]float64 `json:"target_allocation"`
	MaxDeviation      float64            `json:"max_deviation"`
	MarketCondition   string             `json:"market_condition"`
	MarketVolatility  float64            `json:"market_volatility"`
	RiskMetrics       domain.RiskMetrics `json:"risk_metrics"`
	Cycle             cycles.Status      `json:"market_cycle"`
	QuickSellQueue    []string           `json:"quick_sell_queue"`
	LastRebalance     *time.Time         `json:"last_rebalance"`
	CollectedAt       time.Time          `json:"collected_at"`
}

// ManagerConfig holds the rebalance trigger parameters.
type ManagerConfig struct {
	RebalanceThreshold float64
	RebalanceHours     []int
	CheckInterval      time.Duration
}

// Manager runs the portfolio engine: it snapshots the account, adapts to the
// market cycle, computes the target allocation and rebalances when the drift
// or the schedule calls for it.
type Manager struct {
	collector  *Collector
	analyzer   *Analyzer
	calculator *Calculator
	rebalancer *Rebalancer
	strategy   *cycles.Manager
	quickSell  *QuickSellQueue
	history    *HistoryRepository
	notifier   domain.Notifier
	cfg        ManagerConfig
	log        zerolog.Logger
	now        func() time.Time

	mu            sync.Mutex
	lastRebalance time.Time
	lastSummary   *Summary
}

// NewManager wires the portfolio engine together.
func NewManager(
	collector *Collector,
	analyzer *Analyzer,
	calculator *Calculator,
	rebalancer *Rebalancer,
	strategy *cycles.Manager,
	quickSell *QuickSellQueue,
	history *HistoryRepository,
	notifier domain.Notifier,
	cfg ManagerConfig,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		collector:  collector,
		analyzer:   analyzer,
		calculator: calculator,
		rebalancer: rebalancer,
		strategy:   strategy,
		quickSell:  quickSell,
		history:    history,
		notifier:   notifier,
		cfg:        cfg,
		log:        log.With().Str("component", "portfolio_manager").Logger(),
		now:        time.Now,
	}
}

// Run executes the check loop until the context is cancelled. One check runs
// immediately on start.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info().
		Dur("interval", m.cfg.CheckInterval).
		Ints("rebalance_hours", m.cfg.RebalanceHours).
		Msg("Portfolio manager started")

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			m.log.Info().Msg("Portfolio manager stopped")
			return
		}
		if _, err := m.CheckAndRebalance(ctx, false); err != nil {
			m.log.Error().Err(err).Msg("Portfolio check failed")
		}
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Portfolio manager stopped")
			return
		case <-ticker.C:
		}
	}
}

// CheckAndRebalance snapshots the portfolio and rebalances when the drift
// exceeds the threshold, a scheduled hour is due, or force is set. It returns
// the rebalance record, or nil when no rebalance was needed.
func (m *Manager) CheckAndRebalance(ctx context.Context, force bool) (*RebalanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, adaptations, err := m.refreshState(ctx)
	if err != nil {
		return nil, err
	}
	m.lastSummary = m.buildSummary(state, adaptations)

	trigger := m.rebalanceTrigger(state, force)
	if trigger == "" {
		m.log.Debug().Float64("max_deviation", state.MaxDeviation()).Msg("No rebalance needed")
		return nil, nil
	}
	m.log.Info().Str("trigger", trigger).Msg("Rebalancing portfolio")

	trades, err := m.rebalancer.PlanTrades(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to plan trades: %w", err)
	}
	if len(trades) == 0 {
		m.log.Info().Msg("Rebalance triggered but no executable trades")
		m.lastRebalance = m.now()
		return nil, nil
	}

	executed := m.rebalancer.Execute(ctx, trades)
	m.lastRebalance = m.now()

	record, err := m.history.Record(state.TotalValue, adaptations.Status.Cycle.String(), executed)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to persist rebalance record")
		record = &RebalanceRecord{
			ExecutedAt: m.lastRebalance,
			TotalValue: state.TotalValue,
			Cycle:      adaptations.Status.Cycle.String(),
			Trades:     executed,
		}
		for _, t := range executed {
			if t.Success {
				record.Succeeded++
			} else {
				record.Failed++
			}
		}
	}

	m.notifyRebalance(ctx, record, trigger)
	return record, nil
}

// refreshState snapshots the account, analyzes market conditions and computes
// the regime-adjusted target allocation. The caller must hold m.mu.
func (m *Manager) refreshState(ctx context.Context) (*State, cycles.Adaptations, error) {
	state, err := m.collector.Snapshot(ctx)
	if err != nil {
		return nil, cycles.Adaptations{}, fmt.Errorf("failed to snapshot portfolio: %w", err)
	}

	state.MarketCondition, state.MarketVolatility = m.analyzer.AnalyzeCondition(state)
	state.RiskMetrics = m.analyzer.RiskMetrics(state)

	adaptations := m.strategy.Update(ctx, false)
	m.calculator.cashReserve = adaptations.Portfolio.CashReserve
	state.TargetAllocation = m.calculator.TargetAllocation(state,
		adaptations.Portfolio.RiskAversion, adaptations.Portfolio.MaxAllocationPerAsset)
	return state, adaptations, nil
}

// ForceRebalance runs a rebalance regardless of drift or schedule.
func (m *Manager) ForceRebalance(ctx context.Context) (*RebalanceRecord, error) {
	return m.CheckAndRebalance(ctx, true)
}

// Summary returns the report from the most recent check. A cold cache is
// refreshed with a read-only snapshot; a summary read never places trades.
func (m *Manager) Summary(ctx context.Context) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastSummary != nil {
		return m.lastSummary, nil
	}
	state, adaptations, err := m.refreshState(ctx)
	if err != nil {
		return nil, err
	}
	m.lastSummary = m.buildSummary(state, adaptations)
	return m.lastSummary, nil
}

// CycleInfo returns the operator-facing market cycle report.
func (m *Manager) CycleInfo() cycles.Info {
	return m.strategy.Info()
}

// QuickSell flags a symbol for priority liquidation on the next rebalance.
func (m *Manager) QuickSell(symbol, reason string) {
	m.quickSell.Flag(symbol, reason)
}

// History returns recent rebalance records, newest first.
func (m *Manager) History(limit int) ([]RebalanceRecord, error) {
	return m.history.Recent(limit)
}

// rebalanceTrigger returns the reason a rebalance should run now, or "" when
// none applies. Scheduled hours fire at most once per cooldown window.
func (m *Manager) rebalanceTrigger(state *State, force bool) string {
	if force {
		return "forced"
	}
	if len(m.quickSell.Flagged()) > 0 {
		return "quick_sell"
	}
	if state.NeedsRebalance(m.cfg.RebalanceThreshold) {
		return "drift"
	}
	now := m.now()
	for _, hour := range m.cfg.RebalanceHours {
		if now.Hour() == hour && now.Sub(m.lastRebalance) > scheduledRebalanceCooldown {
			return "scheduled"
		}
	}
	return ""
}

func (m *Manager) buildSummary(state *State, adaptations cycles.Adaptations) *Summary {
	summary := &Summary{
		TotalValue:        state.TotalValue,
		CashBalance:       state.CashBalance,
		CurrentAllocation: state.CurrentAllocation,
		TargetAllocation:  state.TargetAllocation,
		MaxDeviation:      state.MaxDeviation(),
		MarketCondition:   state.MarketCondition,
		MarketVolatility:  state.MarketVolatility,
		RiskMetrics:       state.RiskMetrics,
		Cycle:             adaptations.Status,
		QuickSellQueue:    m.quickSell.Flagged(),
		CollectedAt:       state.CollectedAt,
	}
	if !m.lastRebalance.IsZero() {
		t := m.lastRebalance
		summary.LastRebalance = &t
	}
	return summary
}

func (m *Manager) notifyRebalance(ctx context.Context, record *RebalanceRecord, trigger string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Portfolio rebalanced (%s)\n\nTotal value: %.2f %s\nCycle: %s\nTrades: %d ok, %d failed\n",
		trigger, record.TotalValue, domain.CashSymbol, record.Cycle, record.Succeeded, record.Failed)
	for _, t := range record.Trades {
		status := "ok"
		if !t.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "\n%s %s %.6f @ %.2f (%s)", t.Side, t.Symbol, t.Quantity, t.Price, status)
	}

	if err := m.notifier.Send(ctx, b.String()); err != nil {
		m.log.Error().Err(err).Msg("Failed to send rebalance notification")
	}
}
