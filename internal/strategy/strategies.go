package strategy

import (
	"context"

	"github.com/markcheno/go-talib"

	"github.com/tillerbot/tiller/internal/domain"
)

// TrendFollowing signals on moving-average crossovers.
type TrendFollowing struct {
	provider domain.MarketDataProvider
	short    int
	long     int
}

// NewTrendFollowing creates a crossover strategy with the given SMA periods.
func NewTrendFollowing(provider domain.MarketDataProvider, short, long int) *TrendFollowing {
	return &TrendFollowing{provider: provider, short: short, long: long}
}

func (s *TrendFollowing) Name() string { return "trend_following" }

// Analyze buys on a fresh upward cross of the short SMA over the long SMA and
// sells on the downward cross. No cross means no signal.
func (s *TrendFollowing) Analyze(ctx context.Context, symbol string) (Signal, error) {
	signal := Signal{Symbol: symbol}

	candles, err := fetchDaily(ctx, s.provider, symbol, s.long*2)
	if err != nil {
		return signal, err
	}
	if len(candles) < s.long+1 {
		return signal, nil
	}

	closes := domain.Closes(candles)
	shortSMA := talib.Sma(closes, s.short)
	longSMA := talib.Sma(closes, s.long)

	n := len(closes)
	prevShort, currShort := shortSMA[n-2], shortSMA[n-1]
	prevLong, currLong := longSMA[n-2], longSMA[n-1]

	switch {
	case prevShort <= prevLong && currShort > currLong:
		signal.Buy = true
		signal.Confidence = crossConfidence(currShort, currLong)
	case prevShort >= prevLong && currShort < currLong:
		signal.Sell = true
		signal.Confidence = crossConfidence(currLong, currShort)
	}
	return signal, nil
}

// crossConfidence maps the relative gap between the averages to [50,100]: a
// bare cross is a weak signal, a wide separation a strong one.
func crossConfidence(above, below float64) float64 {
	if below <= 0 {
		return 50
	}
	gap := (above - below) / below
	confidence := 50 + gap*2500
	if confidence > 100 {
		confidence = 100
	}
	return confidence
}

// MeanReversion signals when price strays past a threshold from its mean.
type MeanReversion struct {
	provider  domain.MarketDataProvider
	threshold float64
	lookback  int
}

// NewMeanReversion creates a mean reversion strategy with the given deviation
// threshold.
func NewMeanReversion(provider domain.MarketDataProvider, threshold float64) *MeanReversion {
	return &MeanReversion{provider: provider, threshold: threshold, lookback: 30}
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) Analyze(ctx context.Context, symbol string) (Signal, error) {
	signal := Signal{Symbol: symbol}

	candles, err := fetchDaily(ctx, s.provider, symbol, s.lookback)
	if err != nil {
		return signal, err
	}
	if len(candles) < 2 {
		return signal, nil
	}

	closes := domain.Closes(candles)
	mean := 0.0
	for _, c := range closes {
		mean += c
	}
	mean /= float64(len(closes))
	current := closes[len(closes)-1]

	switch {
	case current < mean*(1-s.threshold):
		signal.Buy = true
		signal.Confidence = deviationConfidence(mean, current, s.threshold)
	case current > mean*(1+s.threshold):
		signal.Sell = true
		signal.Confidence = deviationConfidence(current, mean, s.threshold)
	}
	return signal, nil
}

// deviationConfidence grows with how far past the threshold the price sits.
func deviationConfidence(high, low, threshold float64) float64 {
	if low <= 0 {
		return 50
	}
	excess := (high-low)/low - threshold
	confidence := 50 + excess*1000
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 50 {
		confidence = 50
	}
	return confidence
}

// Breakout signals when price escapes its trailing range.
type Breakout struct {
	provider domain.MarketDataProvider
	lookback int
}

// NewBreakout creates a breakout strategy over a trailing candle range.
func NewBreakout(provider domain.MarketDataProvider, lookback int) *Breakout {
	return &Breakout{provider: provider, lookback: lookback}
}

func (s *Breakout) Name() string { return "breakout" }

// Analyze compares the latest close against the high/low of the preceding
// range, excluding the current candle.
func (s *Breakout) Analyze(ctx context.Context, symbol string) (Signal, error) {
	signal := Signal{Symbol: symbol}

	candles, err := fetchDaily(ctx, s.provider, symbol, s.lookback*2)
	if err != nil {
		return signal, err
	}
	if len(candles) < s.lookback+1 {
		return signal, nil
	}

	window := candles[len(candles)-s.lookback-1 : len(candles)-1]
	maxHigh, minLow := window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > maxHigh {
			maxHigh = c.High
		}
		if c.Low < minLow {
			minLow = c.Low
		}
	}

	current := candles[len(candles)-1].Close
	switch {
	case current > maxHigh:
		signal.Buy = true
		signal.Confidence = deviationConfidence(current, maxHigh, 0)
	case current < minLow:
		signal.Sell = true
		signal.Confidence = deviationConfidence(minLow, current, 0)
	}
	return signal, nil
}
