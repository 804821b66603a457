package formulas

import "math"

// CalculateSharpeRatio calculates the annualized Sharpe ratio.
//
//	Sharpe = (mean periodic return - periodic risk-free rate) / stddev of returns
//	Annualized: Sharpe × sqrt(periodsPerYear)
//
// Returns nil when there are not enough observations or the return series has
// zero dispersion.
func CalculateSharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 {
		return nil
	}

	meanReturn := Mean(returns)
	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (meanReturn - periodicRiskFree) / stdDev
	annualized := sharpe * math.Sqrt(float64(periodsPerYear))

	return &annualized
}

// MaxDrawdown calculates the maximum peak-to-trough drawdown of a compounded
// return series, as a positive fraction (0.25 = 25% drawdown).
func MaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	value := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range returns {
		value *= 1 + r
		if value > peak {
			peak = value
		}
		if peak > 0 {
			dd := (peak - value) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}
