// Package portfolio implements the rebalancing engine: snapshot collection,
// market analysis, target allocation, trade planning and the coordinating
// manager loop.
package portfolio

import (
	"math"
	"time"

	"github.com/tillerbot/tiller/internal/domain"
)

// Asset is one held position inside a snapshot.
type Asset struct {
	Symbol  string  `json:"symbol"`
	Balance float64 `json:"balance"`
	Free    float64 `json:"free"`
	Locked  float64 `json:"locked"`
	Price   float64 `json:"current_price"`
	Value   float64 `json:"value"`
}

// State is the working snapshot for one evaluation cycle. It is rebuilt from
// scratch at the start of each check and owned by a single manager; nothing
// mutates it concurrently.
type State struct {
	Assets            map[string]Asset           `json:"assets"`
	CashBalance       float64                    `json:"cash_balance"`
	TotalValue        float64                    `json:"total_value"`
	CurrentAllocation map[string]float64         `json:"current_allocation"`
	TargetAllocation  map[string]float64         `json:"target_allocation"`
	MarketData        map[string][]domain.Candle `json:"-"`
	ValidSymbols      []string                   `json:"valid_symbols"`
	MarketCondition   string                     `json:"market_condition"`
	MarketVolatility  float64                    `json:"market_volatility"`
	RiskMetrics       domain.RiskMetrics         `json:"risk_metrics"`
	CollectedAt       time.Time                  `json:"collected_at"`
}

// NewState returns an empty snapshot with a neutral market view.
func NewState() *State {
	return &State{
		Assets:            make(map[string]Asset),
		CurrentAllocation: make(map[string]float64),
		TargetAllocation:  make(map[string]float64),
		MarketData:        make(map[string][]domain.Candle),
		MarketCondition:   "neutral",
		MarketVolatility:  0.5,
	}
}

// MaxDeviation returns the largest gap between the current and target weight
// of any symbol in the target allocation.
func (s *State) MaxDeviation() float64 {
	maxDev := 0.0
	for symbol, target := range s.TargetAllocation {
		dev := math.Abs(s.CurrentAllocation[symbol] - target)
		if dev > maxDev {
			maxDev = dev
		}
	}
	return maxDev
}

// NeedsRebalance reports whether any allocation gap exceeds the threshold.
func (s *State) NeedsRebalance(threshold float64) bool {
	if len(s.TargetAllocation) == 0 || len(s.CurrentAllocation) == 0 {
		return false
	}
	return s.MaxDeviation() > threshold
}
