package cycles

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/tillerbot/tiller/internal/domain"
	"github.com/tillerbot/tiller/pkg/formulas"
)

const (
	smaShortPeriod = 20
	smaLongPeriod  = 50
	rangePeriod    = 30
	volPeriod      = 14

	volatilityThreshold = 0.03
	uptrendThreshold    = 0.20
	downtrendThreshold  = -0.15

	// Below this score the winning phase is not trusted and the detector
	// reports CycleUnknown.
	minConfidence = 0.3
)

// Metrics captures the indicator snapshot behind a detection.
type Metrics struct {
	Price       float64   `json:"price"`
	PctFromHigh float64   `json:"pct_from_high"`
	PctFromLow  float64   `json:"pct_from_low"`
	Volatility  float64   `json:"volatility"`
	VolumeTrend float64   `json:"volume_trend"`
	TrendSignal int       `json:"trend_signal"`
	Timestamp   time.Time `json:"timestamp"`
}

// Detection is one detector result.
type Detection struct {
	Cycle      Cycle     `json:"cycle"`
	Confidence float64   `json:"confidence"`
	Metrics    Metrics   `json:"metrics"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sentiment is optional external market sentiment input.
type Sentiment struct {
	FearGreedIndex float64 `json:"fear_greed_index"`
}

// Detector scores candidate market phases from BTC daily candles. Each phase
// accumulates evidence from trend, range position, volatility and volume
// criteria; the highest-scoring phase wins if it clears the confidence floor.
type Detector struct {
	log zerolog.Logger

	current    Cycle
	confidence float64
	metrics    Metrics
	history    []Detection
	cycleStart time.Time
}

// NewDetector creates a detector with no prior state.
func NewDetector(log zerolog.Logger) *Detector {
	return &Detector{
		log:     log.With().Str("component", "cycle_detector").Logger(),
		current: CycleUnknown,
	}
}

// Detect analyzes BTC candles and returns the detected phase. Fewer than 50
// candles (the long moving-average window) yields CycleUnknown. Sentiment may
// be nil.
func (d *Detector) Detect(btc []domain.Candle, sentiment *Sentiment) Cycle {
	if len(btc) < smaLongPeriod {
		d.log.Warn().
			Int("candles", len(btc)).
			Int("required", smaLongPeriod).
			Msg("Insufficient data for cycle detection")
		return CycleUnknown
	}

	closes := domain.Closes(btc)
	volumes := domain.Volumes(btc)

	smaShort := last(talib.Sma(closes, smaShortPeriod))
	smaLong := last(talib.Sma(closes, smaLongPeriod))
	recentHigh := last(talib.Max(closes, rangePeriod))
	recentLow := last(talib.Min(closes, rangePeriod))
	currentPrice := last(closes)

	pctFromHigh := (currentPrice - recentHigh) / recentHigh
	pctFromLow := (currentPrice - recentLow) / recentLow

	returns := formulas.CalculateReturns(closes)
	recentVolatility := stdDevTail(returns, volPeriod)

	volumeTrend := 0.0
	if avgVolume := meanTail(volumes, rangePeriod); avgVolume > 0 {
		volumeTrend = meanTail(volumes, 5)/avgVolume - 1
	}

	trendSignal := -1
	if smaShort > smaLong {
		trendSignal = 1
	}

	scores := map[Cycle]float64{}

	// Accumulation: a deep drawdown that has gone quiet near its lows.
	if pctFromHigh < -0.20 && math.Abs(pctFromLow) < 0.10 && recentVolatility < volatilityThreshold {
		scores[CycleAccumulation] += 0.6
	}
	if pctFromHigh < -0.30 && meanAbsTail(returns, 20) < 0.015 {
		scores[CycleAccumulation] += 0.3
	}
	if volumeTrend < -0.1 {
		scores[CycleAccumulation] += 0.2
	}

	// Uptrend: a confirmed breakout from recent lows.
	if pctFromLow > uptrendThreshold && trendSignal > 0 {
		scores[CycleUptrend] += 0.5
	}
	if smaShort > smaLong {
		scores[CycleUptrend] += 0.3
	}
	if recentVolatility > volatilityThreshold && meanTail(returns, 10) > 0 {
		scores[CycleUptrend] += 0.2
	}
	if volumeTrend > 0.1 {
		scores[CycleUptrend] += 0.2
	}

	// Distribution: holding near highs with fading momentum.
	if math.Abs(pctFromHigh) < 0.05 && recentVolatility < volatilityThreshold {
		scores[CycleDistribution] += 0.4
	}
	if math.Abs(pctFromHigh) < 0.10 && meanTail(returns, 20) < meanSlice(returns, 60, 20) {
		scores[CycleDistribution] += 0.3
	}
	if math.Abs(pctFromHigh) < 0.10 && recentVolatility < stdDevWindowAt(returns, volPeriod, 20) {
		scores[CycleDistribution] += 0.3
	}

	// Downtrend: a confirmed breakdown from recent highs.
	if pctFromHigh < downtrendThreshold && trendSignal < 0 {
		scores[CycleDowntrend] += 0.5
	}
	if smaShort < smaLong {
		scores[CycleDowntrend] += 0.3
	}
	if recentVolatility > volatilityThreshold && meanTail(returns, 10) < 0 {
		scores[CycleDowntrend] += 0.2
	}

	if sentiment != nil {
		switch {
		case sentiment.FearGreedIndex < 25:
			scores[CycleDowntrend] += 0.2
			scores[CycleAccumulation] += 0.1
		case sentiment.FearGreedIndex > 75:
			scores[CycleUptrend] += 0.1
			scores[CycleDistribution] += 0.2
		}
	}

	detected := CycleUnknown
	confidence := 0.0
	for _, c := range scoredCycles {
		if scores[c] > confidence {
			detected = c
			confidence = scores[c]
		}
	}
	if confidence < minConfidence {
		detected = CycleUnknown
	}
	// Condition scores for one phase can sum past 1.0; the published
	// confidence stays a probability.
	confidence = math.Min(confidence, 1.0)

	now := time.Now()
	d.metrics = Metrics{
		Price:       currentPrice,
		PctFromHigh: pctFromHigh,
		PctFromLow:  pctFromLow,
		Volatility:  recentVolatility,
		VolumeTrend: volumeTrend,
		TrendSignal: trendSignal,
		Timestamp:   now,
	}
	d.confidence = confidence

	if len(d.history) == 0 || d.history[len(d.history)-1].Cycle != detected {
		d.history = append(d.history, Detection{
			Cycle:      detected,
			Confidence: confidence,
			Metrics:    d.metrics,
			Timestamp:  now,
		})
		d.cycleStart = now
	}
	d.current = detected

	d.log.Info().
		Str("cycle", detected.String()).
		Float64("confidence", confidence).
		Float64("pct_from_high", pctFromHigh).
		Float64("pct_from_low", pctFromLow).
		Float64("volatility", recentVolatility).
		Msg("Market cycle detected")

	return detected
}

// Current returns the last detected phase and its confidence.
func (d *Detector) Current() (Cycle, float64) {
	return d.current, d.confidence
}

// LastMetrics returns the indicator snapshot of the last detection.
func (d *Detector) LastMetrics() Metrics {
	return d.metrics
}

// History returns detections whose phase changed within the last N days.
func (d *Detector) History(days int) []Detection {
	cutoff := time.Now().AddDate(0, 0, -days)
	var out []Detection
	for _, det := range d.history {
		if det.Timestamp.After(cutoff) {
			out = append(out, det)
		}
	}
	return out
}

// Recommendation is the strategy guidance derived from a phase.
type Recommendation struct {
	RiskLevel          string  `json:"risk_level"`
	CashAllocation     float64 `json:"cash_allocation"`
	MaxPositionSize    float64 `json:"max_position_size"`
	StrategyFocus      string  `json:"strategy_focus"`
	RebalanceFrequency string  `json:"rebalance_frequency"`
	Text               string  `json:"recommendation"`
}

// Recommendations maps the current phase to strategy guidance.
func (d *Detector) Recommendations() Recommendation {
	switch d.current {
	case CycleAccumulation:
		return Recommendation{
			RiskLevel:          "moderate",
			CashAllocation:     0.20,
			MaxPositionSize:    0.05,
			StrategyFocus:      "value",
			RebalanceFrequency: "low",
			Text:               "Accumulation phase: gradually buy fundamentally strong assets, favor a DCA approach",
		}
	case CycleUptrend:
		return Recommendation{
			RiskLevel:          "aggressive",
			CashAllocation:     0.10,
			MaxPositionSize:    0.10,
			StrategyFocus:      "growth",
			RebalanceFrequency: "high",
			Text:               "Uptrend: increase exposure to high-growth assets, keep stop losses wide",
		}
	case CycleDistribution:
		return Recommendation{
			RiskLevel:          "conservative",
			CashAllocation:     0.40,
			MaxPositionSize:    0.03,
			StrategyFocus:      "profit_taking",
			RebalanceFrequency: "high",
			Text:               "Distribution phase: take profits gradually, raise cash reserves",
		}
	case CycleDowntrend:
		return Recommendation{
			RiskLevel:          "defensive",
			CashAllocation:     0.60,
			MaxPositionSize:    0.02,
			StrategyFocus:      "capital_preservation",
			RebalanceFrequency: "low",
			Text:               "Downtrend: prioritize capital preservation, keep a high stablecoin ratio",
		}
	case CycleUnknown:
	}
	return Recommendation{
		RiskLevel:          "moderate",
		CashAllocation:     0.30,
		MaxPositionSize:    0.05,
		StrategyFocus:      "balanced",
		RebalanceFrequency: "normal",
		Text:               "Keep a balanced strategy until a clear cycle is detected",
	}
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// meanTail averages the last n values, or all of them when fewer exist.
func meanTail(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	if n > len(values) {
		n = len(values)
	}
	return stat.Mean(values[len(values)-n:], nil)
}

func meanAbsTail(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	if n > len(values) {
		n = len(values)
	}
	sum := 0.0
	tail := values[len(values)-n:]
	for _, v := range tail {
		sum += math.Abs(v)
	}
	return sum / float64(len(tail))
}

// meanSlice averages values[len-from : len-to], the older window used for
// momentum comparison.
func meanSlice(values []float64, from, to int) float64 {
	if from > len(values) {
		from = len(values)
	}
	if to >= from {
		return 0
	}
	window := values[len(values)-from : len(values)-to]
	if len(window) == 0 {
		return 0
	}
	return stat.Mean(window, nil)
}

// stdDevTail is the sample standard deviation of the last n values.
func stdDevTail(values []float64, n int) float64 {
	if len(values) < 2 {
		return 0
	}
	if n > len(values) {
		n = len(values)
	}
	return stat.StdDev(values[len(values)-n:], nil)
}

// stdDevWindowAt computes the rolling standard deviation ending `back`
// observations before the latest one.
func stdDevWindowAt(values []float64, window, back int) float64 {
	end := len(values) - back
	if end < 2 {
		return 0
	}
	start := end - window
	if start < 0 {
		start = 0
	}
	if end-start < 2 {
		return 0
	}
	return stat.StdDev(values[start:end], nil)
}
