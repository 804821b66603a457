package portfolio

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/tillerbot/tiller/internal/domain"
	"github.com/tillerbot/tiller/pkg/formulas"
)

const (
	// minObservations is the minimum return count per symbol for the solve.
	minObservations = 5

	penaltyWeight = 1000.0

	// varianceFloor keeps the risk term finite when the covariance matrix
	// is near singular.
	varianceFloor = 1e-4
)

// OptimizerConfig bounds the solve.
type OptimizerConfig struct {
	MinAllocation          float64
	MaxAllocation          float64
	MaxCorrelationExposure float64
	CorrelationThreshold   float64
}

// Optimizer solves for target weights maximizing risk-adjusted return:
// maximize μ'w - λ·sqrt(w'Σw) subject to Σw = 1, per-asset bounds, and a cap
// on every cluster of highly correlated assets. Constraints are enforced by
// projection and quadratic penalties. The optimizer never fails: degenerate
// inputs or non-convergence fall back to equal weights.
type Optimizer struct {
	cfg OptimizerConfig
	log zerolog.Logger
}

// NewOptimizer creates an optimizer with the given bounds.
func NewOptimizer(cfg OptimizerConfig, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		cfg: cfg,
		log: log.With().Str("component", "optimizer").Logger(),
	}
}

// Optimize returns weights for the given symbols. riskAversion is the λ of
// the objective; maxAllocation tightens the configured per-asset bound when
// positive (a regime cap); marketCondition scales expected returns (×1.2
// bullish, ×0.8 bearish). Fewer than two symbols with enough history yields
// equal weights over all requested symbols.
func (o *Optimizer) Optimize(symbols []string, marketData map[string][]domain.Candle, riskAversion, maxAllocation float64, marketCondition string) map[string]float64 {
	usable, returnSeries := o.alignedReturns(symbols, marketData)
	if len(usable) < 2 {
		o.log.Warn().
			Int("symbols", len(symbols)).
			Int("usable", len(usable)).
			Msg("Insufficient data for optimization, using equal weights")
		return equalWeights(symbols)
	}

	n := len(usable)

	mu := make([]float64, n)
	for i := range usable {
		mu[i] = stat.Mean(returnSeries[i], nil) * formulas.PeriodsPerYear
	}
	switch marketCondition {
	case "bullish":
		for i := range mu {
			mu[i] *= 1.2
		}
	case "bearish":
		for i := range mu {
			mu[i] *= 0.8
		}
	}

	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov := stat.Covariance(returnSeries[i], returnSeries[j], nil) * formulas.PeriodsPerYear
			sigma.SetSym(i, j, cov)
		}
	}

	if matrixDegenerate(sigma) {
		o.log.Warn().Msg("Degenerate covariance matrix, using equal weights")
		return toWeightMap(usable, uniform(n))
	}

	groups := o.correlationGroups(usable, returnSeries)
	if len(groups) > 0 {
		o.log.Debug().Int("groups", len(groups)).Msg("Correlated clusters detected")
	}

	bound := o.cfg.MaxAllocation
	if maxAllocation > 0 && maxAllocation < bound {
		bound = maxAllocation
	}
	if bound < o.cfg.MinAllocation {
		bound = o.cfg.MinAllocation
	}

	weights := o.solve(mu, sigma, groups, riskAversion, bound)
	return toWeightMap(usable, weights)
}

// alignedReturns computes per-symbol simple returns truncated to a common
// length, keeping only symbols with enough observations.
func (o *Optimizer) alignedReturns(symbols []string, marketData map[string][]domain.Candle) ([]string, [][]float64) {
	var usable []string
	var series [][]float64
	minLen := -1

	ordered := append([]string(nil), symbols...)
	sort.Strings(ordered)

	for _, symbol := range ordered {
		candles, ok := marketData[symbol]
		if !ok {
			continue
		}
		returns := formulas.CalculateReturns(domain.Closes(candles))
		if len(returns) < minObservations {
			continue
		}
		usable = append(usable, symbol)
		series = append(series, returns)
		if minLen < 0 || len(returns) < minLen {
			minLen = len(returns)
		}
	}

	if minLen < minObservations {
		return nil, nil
	}
	for i := range series {
		series[i] = series[i][len(series[i])-minLen:]
	}
	return usable, series
}

// correlationGroups clusters symbols whose pairwise correlation exceeds the
// threshold. Each symbol belongs to at most one group.
func (o *Optimizer) correlationGroups(symbols []string, series [][]float64) [][]int {
	n := len(symbols)
	var groups [][]int
	processed := make(map[int]bool)

	for i := 0; i < n; i++ {
		if processed[i] {
			continue
		}
		group := []int{i}
		for j := 0; j < n; j++ {
			if j == i || processed[j] {
				continue
			}
			corr := stat.Correlation(series[i], series[j], nil)
			if math.Abs(corr) > o.cfg.CorrelationThreshold {
				group = append(group, j)
			}
		}
		if len(group) > 1 {
			for _, idx := range group {
				processed[idx] = true
			}
			groups = append(groups, group)
		} else {
			processed[i] = true
		}
	}

	return groups
}

// solve runs the penalty-method minimization. Non-convergence under both
// methods returns the equal-weight initial guess.
func (o *Optimizer) solve(mu []float64, sigma *mat.SymDense, groups [][]int, riskAversion, maxAllocation float64) []float64 {
	n := len(mu)
	initial := uniform(n)

	objective := func(x []float64) float64 {
		xProj := o.projectToBounds(x, maxAllocation)

		var portfolioReturn float64
		for i := 0; i < n; i++ {
			portfolioReturn += mu[i] * xProj[i]
		}

		var variance float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				variance += xProj[i] * xProj[j] * sigma.At(i, j)
			}
		}
		risk := math.Sqrt(math.Max(variance, varianceFloor))

		obj := -(portfolioReturn - riskAversion*risk)

		sum := 0.0
		for i := 0; i < n; i++ {
			sum += xProj[i]
		}
		obj += penaltyWeight * (sum - 1.0) * (sum - 1.0)

		for _, group := range groups {
			groupWeight := 0.0
			for _, idx := range group {
				groupWeight += xProj[idx]
			}
			if excess := groupWeight - o.cfg.MaxCorrelationExposure; excess > 0 {
				obj += penaltyWeight * excess * excess
			}
		}

		return obj
	}

	problem := optimize.Problem{
		Func: objective,
		Grad: func(grad, x []float64) {
			xProj := o.projectToBounds(x, maxAllocation)

			var variance float64
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					variance += xProj[i] * xProj[j] * sigma.At(i, j)
				}
			}
			risk := math.Sqrt(math.Max(variance, varianceFloor))

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}

			for i := 0; i < n; i++ {
				var dVariance float64
				for j := 0; j < n; j++ {
					dVariance += 2 * sigma.At(i, j) * xProj[j]
				}
				grad[i] = -mu[i] + riskAversion*dVariance/(2*risk)
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}

			for _, group := range groups {
				groupWeight := 0.0
				for _, idx := range group {
					groupWeight += xProj[idx]
				}
				if excess := groupWeight - o.cfg.MaxCorrelationExposure; excess > 0 {
					for _, idx := range group {
						grad[idx] += 2 * penaltyWeight * excess
					}
				}
			}
		},
	}

	successStatuses := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil || !successStatuses[result.Status] {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
		if err != nil || !successStatuses[result.Status] {
			o.log.Warn().Err(err).Msg("Optimization did not converge, using initial guess")
			return initial
		}
	}

	xFinal := o.projectToBounds(result.X, maxAllocation)
	sum := 0.0
	for _, w := range xFinal {
		sum += w
	}
	norm := make([]float64, n)
	for i := range xFinal {
		norm[i] = math.Max(0.0, xFinal[i]/math.Max(sum, 1e-10))
	}
	return norm
}

func (o *Optimizer) projectToBounds(x []float64, maxAllocation float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(o.cfg.MinAllocation, math.Min(maxAllocation, x[i]))
	}
	return proj
}

func matrixDegenerate(sigma *mat.SymDense) bool {
	n := sigma.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := sigma.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}

func equalWeights(symbols []string) map[string]float64 {
	weights := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return weights
	}
	w := 1.0 / float64(len(symbols))
	for _, symbol := range symbols {
		weights[symbol] = w
	}
	return weights
}

func toWeightMap(symbols []string, weights []float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for i, symbol := range symbols {
		out[symbol] = weights[i]
	}
	return out
}
