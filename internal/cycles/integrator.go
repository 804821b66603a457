package cycles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/domain"
)

// detectionInterval is the minimum time between detector runs unless an
// update is forced.
const detectionInterval = 6 * time.Hour

// Config is the per-phase strategy parameter set.
type Config struct {
	RiskAversion          float64 `json:"risk_aversion"`
	MaxAllocationPerAsset float64 `json:"max_allocation_per_asset"`
	CashReserve           float64 `json:"cash_reserve"`
	TradingFrequency      string  `json:"trading_frequency"`
	StopLossMultiplier    float64 `json:"stop_loss_multiplier"`
	TakeProfitMultiplier  float64 `json:"take_profit_multiplier"`
	DCAEnabled            bool    `json:"dca_enabled"`
}

// ConfigFor returns the strategy parameters for a phase.
func ConfigFor(c Cycle) Config {
	switch c {
	case CycleAccumulation:
		return Config{
			RiskAversion:          0.5,
			MaxAllocationPerAsset: 0.15,
			CashReserve:           0.20,
			TradingFrequency:      "medium",
			StopLossMultiplier:    1.0,
			TakeProfitMultiplier:  1.2,
			DCAEnabled:            true,
		}
	case CycleUptrend:
		return Config{
			RiskAversion:          0.3,
			MaxAllocationPerAsset: 0.25,
			CashReserve:           0.10,
			TradingFrequency:      "high",
			StopLossMultiplier:    0.8,
			TakeProfitMultiplier:  1.5,
			DCAEnabled:            false,
		}
	case CycleDistribution:
		return Config{
			RiskAversion:          0.7,
			MaxAllocationPerAsset: 0.10,
			CashReserve:           0.40,
			TradingFrequency:      "high",
			StopLossMultiplier:    0.7,
			TakeProfitMultiplier:  1.0,
			DCAEnabled:            false,
		}
	case CycleDowntrend:
		return Config{
			RiskAversion:          0.9,
			MaxAllocationPerAsset: 0.05,
			CashReserve:           0.60,
			TradingFrequency:      "low",
			StopLossMultiplier:    0.5,
			TakeProfitMultiplier:  0.8,
			DCAEnabled:            true,
		}
	case CycleUnknown:
	}
	return Config{
		RiskAversion:          0.6,
		MaxAllocationPerAsset: 0.15,
		CashReserve:           0.30,
		TradingFrequency:      "medium",
		StopLossMultiplier:    0.9,
		TakeProfitMultiplier:  1.1,
		DCAEnabled:            false,
	}
}

// InvestmentMultiplier scales buy sizes by phase.
func InvestmentMultiplier(c Cycle) float64 {
	switch c {
	case CycleAccumulation:
		return 1.5
	case CycleUptrend:
		return 1.3
	case CycleDistribution:
		return 0.8
	case CycleDowntrend:
		return 0.5
	case CycleUnknown:
	}
	return 1.0
}

// BuyConfidenceThreshold is the minimum signal confidence required to open a
// position in each phase. Downtrends demand the most.
func BuyConfidenceThreshold(c Cycle) float64 {
	switch c {
	case CycleAccumulation:
		return 60
	case CycleUptrend:
		return 70
	case CycleDistribution:
		return 80
	case CycleDowntrend:
		return 90
	case CycleUnknown:
	}
	return 75
}

// PortfolioAdaptations feed the allocation calculator.
type PortfolioAdaptations struct {
	RiskAversion          float64 `json:"risk_aversion"`
	MaxAllocationPerAsset float64 `json:"max_allocation_per_asset"`
	CashReserve           float64 `json:"cash_reserve"`
	RebalanceFrequency    string  `json:"rebalance_frequency"`
}

// BuyAdaptations feed buy sizing and gating.
type BuyAdaptations struct {
	InvestmentMultiplier float64 `json:"investment_multiplier"`
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
	DCAEnabled           bool    `json:"dca_enabled"`
}

// SellAdaptations feed exit management.
type SellAdaptations struct {
	StopLossMultiplier         float64 `json:"stop_loss_multiplier"`
	TakeProfitMultiplier       float64 `json:"take_profit_multiplier"`
	ProfitTakingAggressiveness string  `json:"profit_taking_aggressiveness"`
}

// Status describes the integrator's current view of the market.
type Status struct {
	Cycle       Cycle     `json:"cycle"`
	Confidence  float64   `json:"confidence"`
	LastUpdated time.Time `json:"last_updated"`
}

// Adaptations is the full parameter set derived from the current phase.
type Adaptations struct {
	Portfolio PortfolioAdaptations `json:"portfolio"`
	Buy       BuyAdaptations       `json:"buy"`
	Sell      SellAdaptations      `json:"sell"`
	Status    Status               `json:"market_cycle"`
}

// Info is the operator-facing cycle report.
type Info struct {
	Cycle          Cycle          `json:"cycle"`
	Confidence     float64        `json:"confidence"`
	Description    string         `json:"description"`
	Recommendation Recommendation `json:"recommendations"`
	Metrics        Metrics        `json:"metrics"`
	LastUpdated    *time.Time     `json:"last_updated"`
	History        []Detection    `json:"history"`
}

// Integrator runs the detector on a rate limit, keeps the active per-phase
// configuration, and notifies the operator on phase transitions.
type Integrator struct {
	detector *Detector
	notifier domain.Notifier
	log      zerolog.Logger

	mu            sync.Mutex
	current       Cycle
	confidence    float64
	lastDetection time.Time
	active        Config
}

// NewIntegrator creates an integrator in the unknown phase.
func NewIntegrator(detector *Detector, notifier domain.Notifier, log zerolog.Logger) *Integrator {
	return &Integrator{
		detector: detector,
		notifier: notifier,
		log:      log.With().Str("component", "cycle_integrator").Logger(),
		current:  CycleUnknown,
		active:   ConfigFor(CycleUnknown),
	}
}

// Update re-runs detection on the given BTC candles. Within the detection
// interval the cached phase is returned unless force is set. A phase change
// triggers a notification; notification failures are logged, never fatal.
func (i *Integrator) Update(ctx context.Context, btc []domain.Candle, sentiment *Sentiment, force bool) Cycle {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	if !force && !i.lastDetection.IsZero() && now.Sub(i.lastDetection) < detectionInterval {
		i.log.Debug().
			Str("cycle", i.current.String()).
			Dur("age", now.Sub(i.lastDetection)).
			Msg("Using cached cycle detection")
		return i.current
	}

	if len(btc) < rangePeriod {
		i.log.Warn().Int("candles", len(btc)).Msg("Insufficient data to update market cycle")
		return i.current
	}

	previous := i.current
	i.current = i.detector.Detect(btc, sentiment)
	_, i.confidence = i.detector.Current()
	i.lastDetection = now
	i.active = ConfigFor(i.current)

	i.log.Info().
		Str("cycle", i.current.String()).
		Float64("confidence", i.confidence).
		Msg("Market cycle updated")

	if previous != i.current {
		i.notifyTransition(ctx, previous, i.current)
	}

	return i.current
}

// Current returns the phase, confidence and active configuration.
func (i *Integrator) Current() (Cycle, float64, Config) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current, i.confidence, i.active
}

// Adaptations derives the full parameter set for the current phase.
func (i *Integrator) Adaptations() Adaptations {
	i.mu.Lock()
	defer i.mu.Unlock()

	rebalanceFreq := "normal"
	if i.current == CycleUptrend || i.current == CycleDistribution {
		rebalanceFreq = "high"
	}

	aggressiveness := "low"
	switch i.current {
	case CycleDistribution:
		aggressiveness = "high"
	case CycleUptrend:
		aggressiveness = "medium"
	case CycleAccumulation, CycleDowntrend, CycleUnknown:
	}

	return Adaptations{
		Portfolio: PortfolioAdaptations{
			RiskAversion:          i.active.RiskAversion,
			MaxAllocationPerAsset: i.active.MaxAllocationPerAsset,
			CashReserve:           i.active.CashReserve,
			RebalanceFrequency:    rebalanceFreq,
		},
		Buy: BuyAdaptations{
			InvestmentMultiplier: InvestmentMultiplier(i.current),
			ConfidenceThreshold:  BuyConfidenceThreshold(i.current),
			DCAEnabled:           i.active.DCAEnabled,
		},
		Sell: SellAdaptations{
			StopLossMultiplier:         i.active.StopLossMultiplier,
			TakeProfitMultiplier:       i.active.TakeProfitMultiplier,
			ProfitTakingAggressiveness: aggressiveness,
		},
		Status: Status{
			Cycle:       i.current,
			Confidence:  i.confidence,
			LastUpdated: i.lastDetection,
		},
	}
}

// Info builds the operator-facing cycle report.
func (i *Integrator) Info() Info {
	i.mu.Lock()
	defer i.mu.Unlock()

	info := Info{
		Cycle:          i.current,
		Confidence:     i.confidence,
		Description:    i.current.Description(),
		Recommendation: i.detector.Recommendations(),
		Metrics:        i.detector.LastMetrics(),
		History:        i.detector.History(90),
	}
	if !i.lastDetection.IsZero() {
		t := i.lastDetection
		info.LastUpdated = &t
	}
	return info
}

func (i *Integrator) notifyTransition(ctx context.Context, previous, current Cycle) {
	msg := fmt.Sprintf(
		"Market cycle change\n\nPrevious: %s\nNew: %s\nConfidence: %.1f%%\n\n%s\n\nActive parameters: risk aversion %.2f, max per asset %.0f%%, cash reserve %.0f%%",
		previous, current, i.confidence*100,
		current.Description(),
		i.active.RiskAversion,
		i.active.MaxAllocationPerAsset*100,
		i.active.CashReserve*100,
	)

	if err := i.notifier.Send(ctx, msg); err != nil {
		i.log.Error().Err(err).Msg("Failed to send cycle change notification")
		return
	}
	i.log.Info().
		Str("previous", previous.String()).
		Str("current", current.String()).
		Msg("Cycle change notification sent")
}
