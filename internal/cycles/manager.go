package cycles

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/domain"
)

// btcPair is the reference pair for regime detection. The whole market's
// phase is read from BTC.
const btcPair = "BTC" + domain.CashSymbol

// Manager orchestrates cycle detection for the rest of the system: it fetches
// the reference market data, runs the integrator on its own rate limit, and
// caches the resulting adaptations.
type Manager struct {
	provider   domain.MarketDataProvider
	integrator *Integrator
	log        zerolog.Logger

	lookbackDays   int
	updateInterval time.Duration

	mu          sync.Mutex
	lastUpdate  time.Time
	adaptations Adaptations
}

// NewManager creates a strategy adaptation manager.
func NewManager(provider domain.MarketDataProvider, integrator *Integrator, lookbackDays int, updateInterval time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		provider:       provider,
		integrator:     integrator,
		log:            log.With().Str("component", "strategy_manager").Logger(),
		lookbackDays:   lookbackDays,
		updateInterval: updateInterval,
		adaptations:    defaultAdaptations(),
	}
}

// defaultAdaptations is the unknown-phase parameter set used before the
// first successful detection.
func defaultAdaptations() Adaptations {
	cfg := ConfigFor(CycleUnknown)
	return Adaptations{
		Portfolio: PortfolioAdaptations{
			RiskAversion:          cfg.RiskAversion,
			MaxAllocationPerAsset: cfg.MaxAllocationPerAsset,
			CashReserve:           cfg.CashReserve,
			RebalanceFrequency:    "normal",
		},
		Buy: BuyAdaptations{
			InvestmentMultiplier: InvestmentMultiplier(CycleUnknown),
			ConfidenceThreshold:  BuyConfidenceThreshold(CycleUnknown),
			DCAEnabled:           cfg.DCAEnabled,
		},
		Sell: SellAdaptations{
			StopLossMultiplier:         cfg.StopLossMultiplier,
			TakeProfitMultiplier:       cfg.TakeProfitMultiplier,
			ProfitTakingAggressiveness: "low",
		},
		Status: Status{Cycle: CycleUnknown},
	}
}

// Update refreshes the market state and returns the current adaptations.
// Within the update interval the cached adaptations are returned unless force
// is set. Fetch failures keep the previous adaptations in place.
func (m *Manager) Update(ctx context.Context, force bool) Adaptations {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !force && !m.lastUpdate.IsZero() && now.Sub(m.lastUpdate) < m.updateInterval {
		m.log.Debug().
			Dur("age", now.Sub(m.lastUpdate)).
			Msg("Using cached strategy adaptations")
		return m.adaptations
	}

	end := now
	start := end.AddDate(0, 0, -m.lookbackDays)
	btc, err := m.provider.FetchHistoricalData(ctx, btcPair, start, end, "1d")
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to fetch reference market data")
		return m.adaptations
	}
	if len(btc) < rangePeriod {
		m.log.Warn().Int("candles", len(btc)).Msg("Insufficient reference data for cycle update")
		return m.adaptations
	}

	cycle := m.integrator.Update(ctx, btc, nil, force)
	m.adaptations = m.integrator.Adaptations()
	m.lastUpdate = now

	m.log.Info().
		Str("cycle", cycle.String()).
		Float64("confidence", m.adaptations.Status.Confidence).
		Msg("Strategy adaptations refreshed")

	return m.adaptations
}

// Adaptations returns the cached adaptations without refreshing.
func (m *Manager) Adaptations() Adaptations {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adaptations
}

// Info returns the operator-facing cycle report.
func (m *Manager) Info() Info {
	return m.integrator.Info()
}
