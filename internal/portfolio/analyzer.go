package portfolio

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/tillerbot/tiller/internal/domain"
	"github.com/tillerbot/tiller/pkg/formulas"
)

const riskFreeRate = 0.02

// Analyzer classifies overall market condition from reference assets and
// computes portfolio-level risk metrics.
type Analyzer struct {
	referenceSymbols []string
	log              zerolog.Logger
}

// NewAnalyzer creates an analyzer. With no reference symbols it defaults to
// BTC and ETH.
func NewAnalyzer(referenceSymbols []string, log zerolog.Logger) *Analyzer {
	if len(referenceSymbols) == 0 {
		referenceSymbols = []string{"BTC", "ETH"}
	}
	return &Analyzer{
		referenceSymbols: referenceSymbols,
		log:              log.With().Str("component", "analyzer").Logger(),
	}
}

// AnalyzeCondition derives a coarse market condition ("bullish", "bearish"
// or "neutral") and a normalized volatility in [0,1] from the reference
// assets' recent returns. Missing reference data yields the neutral default.
func (a *Analyzer) AnalyzeCondition(state *State) (string, float64) {
	condition := "neutral"
	volatility := 0.5

	var trends, volatilities []float64
	for _, symbol := range a.referenceSymbols {
		candles, ok := state.MarketData[symbol]
		if !ok || len(candles) < 5 {
			continue
		}
		returns := formulas.CalculateReturns(domain.Closes(candles))
		if len(returns) < 2 {
			continue
		}
		volatilities = append(volatilities, stat.StdDev(returns, nil))

		recent := returns
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		trends = append(trends, stat.Mean(recent, nil))
	}

	if len(trends) == 0 {
		a.log.Warn().Msg("No reference data to analyze market condition")
		return condition, volatility
	}

	avgTrend := stat.Mean(trends, nil)
	avgVolatility := stat.Mean(volatilities, nil)

	switch {
	case avgTrend > 0.01:
		condition = "bullish"
	case avgTrend < -0.01:
		condition = "bearish"
	}

	// Map daily volatility to [0,1], treating 1% as calm and 3% as high.
	volatility = (avgVolatility - 0.01) / 0.02
	if volatility < 0 {
		volatility = 0
	}
	if volatility > 1 {
		volatility = 1
	}

	a.log.Debug().
		Str("condition", condition).
		Float64("volatility", volatility).
		Msg("Market condition analyzed")

	return condition, volatility
}

// RiskMetrics computes annualized return, volatility, Sharpe ratio and max
// drawdown for the target allocation over the snapshot's history. Symbols
// without data or with negligible weight are ignored.
func (a *Analyzer) RiskMetrics(state *State) domain.RiskMetrics {
	var metrics domain.RiskMetrics

	if len(state.MarketData) == 0 || len(state.TargetAllocation) == 0 {
		return metrics
	}

	type assetReturns struct {
		weight  float64
		returns []float64
	}

	var (
		series    []assetReturns
		minLength = -1
		totalW    float64
	)
	for symbol, weight := range state.TargetAllocation {
		if weight <= 0.01 {
			continue
		}
		candles, ok := state.MarketData[symbol]
		if !ok || len(candles) <= 5 {
			continue
		}
		returns := formulas.CalculateReturns(domain.Closes(candles))
		if len(returns) == 0 {
			continue
		}
		series = append(series, assetReturns{weight: weight, returns: returns})
		totalW += weight
		if minLength < 0 || len(returns) < minLength {
			minLength = len(returns)
		}
	}

	if len(series) == 0 || minLength < 2 || totalW <= 0 {
		return metrics
	}

	// Weighted portfolio return series, aligned on the shortest history.
	portfolioReturns := make([]float64, minLength)
	for _, s := range series {
		tail := s.returns[len(s.returns)-minLength:]
		w := s.weight / totalW
		for i, r := range tail {
			portfolioReturns[i] += r * w
		}
	}

	metrics.AnnualReturn = formulas.AnnualizedReturn(portfolioReturns)
	metrics.AnnualVolatility = formulas.AnnualizedVolatility(portfolioReturns)
	if sharpe := formulas.CalculateSharpeRatio(portfolioReturns, riskFreeRate, formulas.PeriodsPerYear); sharpe != nil {
		metrics.SharpeRatio = *sharpe
	}
	metrics.MaxDrawdown = formulas.MaxDrawdown(portfolioReturns)

	a.log.Debug().
		Float64("annual_return", metrics.AnnualReturn).
		Float64("annual_volatility", metrics.AnnualVolatility).
		Float64("max_drawdown", metrics.MaxDrawdown).
		Msg("Risk metrics calculated")

	return metrics
}
