package portfolio

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/domain"
)

// lowVolatilityCeiling is the normalized-volatility bound under which a
// bullish market lowers risk aversion.
const lowVolatilityCeiling = 0.7

// Calculator turns a snapshot into a target allocation. It wraps the
// optimizer with market-condition risk scaling, weight sanitization, the cash
// reserve, and a default allocation fallback that is always reachable.
type Calculator struct {
	optimizer          *Optimizer
	cashReserve        float64
	rebalanceThreshold float64
	log                zerolog.Logger
}

// NewCalculator creates an allocation calculator.
func NewCalculator(optimizer *Optimizer, cashReserve, rebalanceThreshold float64, log zerolog.Logger) *Calculator {
	return &Calculator{
		optimizer:          optimizer,
		cashReserve:        cashReserve,
		rebalanceThreshold: rebalanceThreshold,
		log:                log.With().Str("component", "allocation").Logger(),
	}
}

// TargetAllocation computes the target weights for the snapshot using the
// regime-adjusted risk aversion. maxAllocation, when positive, caps every
// non-cash weight; the excess moves to cash. The result always includes the
// cash symbol, sums to 1 and contains no negative, NaN or infinite weight.
func (c *Calculator) TargetAllocation(state *State, riskAversion, maxAllocation float64) map[string]float64 {
	if len(state.MarketData) == 0 || len(state.ValidSymbols) == 0 {
		c.log.Warn().Msg("No market data for optimization, using default allocation")
		return c.DefaultAllocation(state)
	}

	effective := riskAversion
	switch {
	case state.MarketCondition == "bearish":
		effective = riskAversion * 1.5
	case state.MarketCondition == "bullish" && state.MarketVolatility < lowVolatilityCeiling:
		effective = riskAversion * 0.8
	}
	if effective != riskAversion {
		c.log.Debug().
			Float64("base", riskAversion).
			Float64("effective", effective).
			Str("condition", state.MarketCondition).
			Msg("Risk aversion adjusted for market condition")
	}

	weights := c.optimizer.Optimize(state.ValidSymbols, state.MarketData, effective, maxAllocation, state.MarketCondition)
	if len(weights) == 0 {
		c.log.Warn().Msg("Optimizer produced no weights, using default allocation")
		return c.DefaultAllocation(state)
	}

	allocation := make(map[string]float64, len(weights)+1)
	for symbol, weight := range weights {
		allocation[symbol] = sanitizeWeight(weight)
	}
	for _, symbol := range state.ValidSymbols {
		if _, ok := allocation[symbol]; !ok {
			allocation[symbol] = 0
		}
	}

	// Reserve cash off the top, then renormalize.
	for symbol := range allocation {
		allocation[symbol] *= 1 - c.cashReserve
	}
	allocation[domain.CashSymbol] = c.cashReserve
	normalize(allocation)

	// Normalization can push a weight past the regime cap when the solve
	// was infeasible under it. Shift the excess into cash so the cap holds
	// on the final weights.
	if maxAllocation > 0 {
		for symbol, weight := range allocation {
			if symbol == domain.CashSymbol {
				continue
			}
			if weight > maxAllocation {
				allocation[domain.CashSymbol] += weight - maxAllocation
				allocation[symbol] = maxAllocation
			}
		}
	}

	c.log.Info().Int("assets", len(allocation)).Msg("Target allocation calculated")
	return allocation
}

// DefaultAllocation is the fallback target when optimization is impossible.
// With existing holdings it is value-weighted over the top ten positions with
// a 25% cash floor; otherwise it is a fixed canonical basket.
func (c *Calculator) DefaultAllocation(state *State) map[string]float64 {
	if state != nil && len(state.Assets) > 0 {
		type holding struct {
			symbol string
			value  float64
		}
		holdings := make([]holding, 0, len(state.Assets))
		totalValue := 0.0
		for symbol, asset := range state.Assets {
			holdings = append(holdings, holding{symbol: symbol, value: asset.Value})
			totalValue += asset.Value
		}
		sort.Slice(holdings, func(i, j int) bool {
			if holdings[i].value == holdings[j].value {
				return holdings[i].symbol < holdings[j].symbol
			}
			return holdings[i].value > holdings[j].value
		})
		if len(holdings) > 10 {
			holdings = holdings[:10]
		}

		if totalValue > 0 {
			allocation := make(map[string]float64, len(holdings)+1)
			for _, h := range holdings {
				allocation[h.symbol] = h.value / totalValue * 0.75
			}
			allocation[domain.CashSymbol] = 0.25
			normalize(allocation)
			return allocation
		}
	}

	return map[string]float64{
		"BTC":             0.35,
		"ETH":             0.25,
		"BNB":             0.10,
		"SOL":             0.05,
		domain.CashSymbol: 0.25,
	}
}

// NeedsRebalance reports whether the snapshot's allocation gap exceeds the
// threshold.
func (c *Calculator) NeedsRebalance(state *State) bool {
	if len(state.CurrentAllocation) == 0 || len(state.TargetAllocation) == 0 {
		return false
	}
	deviation := state.MaxDeviation()
	needed := deviation > c.rebalanceThreshold
	c.log.Info().
		Float64("max_deviation", deviation).
		Float64("threshold", c.rebalanceThreshold).
		Bool("rebalance_needed", needed).
		Msg("Allocation deviation checked")
	return needed
}

// sanitizeWeight maps NaN, infinite and negative solver output to zero.
func sanitizeWeight(w float64) float64 {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return 0
	}
	return w
}

func normalize(allocation map[string]float64) {
	total := 0.0
	for _, w := range allocation {
		total += w
	}
	if total <= 0 {
		return
	}
	for symbol := range allocation {
		allocation[symbol] /= total
	}
}
