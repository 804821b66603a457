// Package formulas provides the shared financial math used by the portfolio
// engine: return series, dispersion statistics, Sharpe ratio and drawdown.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// PeriodsPerYear is the annualization factor for daily crypto candles.
// Crypto markets trade every day of the year.
const PeriodsPerYear = 365

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// CalculateReturns converts prices to simple percentage returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// AnnualizedReturn scales a mean periodic return to a yearly figure.
func AnnualizedReturn(periodicReturns []float64) float64 {
	if len(periodicReturns) == 0 {
		return 0
	}
	return Mean(periodicReturns) * PeriodsPerYear
}

// AnnualizedVolatility calculates annualized volatility from periodic returns.
func AnnualizedVolatility(periodicReturns []float64) float64 {
	if len(periodicReturns) < 2 {
		return 0
	}
	return StdDev(periodicReturns) * math.Sqrt(PeriodsPerYear)
}

// Correlation calculates the Pearson correlation coefficient between two series
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Covariance calculates the covariance between two series
func Covariance(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}
