package strategy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillerbot/tiller/internal/domain"
)

// candleProvider serves a fixed candle series for any pair.
type candleProvider struct {
	candles []domain.Candle
	err     error
}

func (p *candleProvider) GetPrice(context.Context, string) (float64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (p *candleProvider) FetchHistoricalData(context.Context, string, time.Time, time.Time, string) ([]domain.Candle, error) {
	return p.candles, p.err
}

func (p *candleProvider) GetBalanceSummary(context.Context) ([]domain.Balance, error) {
	return nil, nil
}

func (p *candleProvider) CreateOrder(context.Context, string, domain.Side, float64) (*domain.OrderFill, error) {
	return nil, fmt.Errorf("not implemented")
}

func candlesFromCloses(closes []float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = domain.Candle{
			OpenTime: t.AddDate(0, 0, i),
			Open:     c,
			High:     c * 1.005,
			Low:      c * 0.995,
			Close:    c,
			Volume:   1000,
		}
	}
	return out
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("custom", func(p domain.MarketDataProvider) Strategy {
		return NewBreakout(p, 10)
	}))
	assert.Error(t, r.Register("custom", func(p domain.MarketDataProvider) Strategy {
		return NewBreakout(p, 10)
	}), "duplicate names are rejected")

	s, err := r.New("custom", &candleProvider{})
	require.NoError(t, err)
	assert.Equal(t, "breakout", s.Name())

	_, err = r.New("missing", &candleProvider{})
	assert.Error(t, err)
}

func TestDefaultRegistryNames(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"breakout", "mean_reversion", "trend_following"}, r.Names())

	for _, name := range r.Names() {
		s, err := r.New(name, &candleProvider{})
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}
}

func TestTrendFollowingBuysOnUpwardCross(t *testing.T) {
	// Flat for long enough to converge the averages, then a single sharp
	// rally candle forces the short SMA over the long one.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	closes[59] = 150

	s := NewTrendFollowing(&candleProvider{candles: candlesFromCloses(closes)}, 5, 50)
	signal, err := s.Analyze(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.True(t, signal.Buy)
	assert.False(t, signal.Sell)
	assert.GreaterOrEqual(t, signal.Confidence, 50.0)
}

func TestTrendFollowingNoSignalWithoutCross(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}

	s := NewTrendFollowing(&candleProvider{candles: candlesFromCloses(closes)}, 5, 50)
	signal, err := s.Analyze(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.False(t, signal.Buy)
	assert.False(t, signal.Sell)
}

func TestTrendFollowingInsufficientData(t *testing.T) {
	s := NewTrendFollowing(&candleProvider{candles: candlesFromCloses([]float64{1, 2, 3})}, 5, 50)
	signal, err := s.Analyze(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.False(t, signal.Buy)
	assert.False(t, signal.Sell)
}

func TestMeanReversionSignals(t *testing.T) {
	base := make([]float64, 29)
	for i := range base {
		base[i] = 100
	}

	buyCase := append(append([]float64{}, base...), 90) // well below the mean
	s := NewMeanReversion(&candleProvider{candles: candlesFromCloses(buyCase)}, 0.01)
	signal, err := s.Analyze(context.Background(), "ETHUSDC")
	require.NoError(t, err)
	assert.True(t, signal.Buy)

	sellCase := append(append([]float64{}, base...), 110)
	s = NewMeanReversion(&candleProvider{candles: candlesFromCloses(sellCase)}, 0.01)
	signal, err = s.Analyze(context.Background(), "ETHUSDC")
	require.NoError(t, err)
	assert.True(t, signal.Sell)
}

func TestBreakoutSignals(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	candles := candlesFromCloses(closes)

	// Close above the trailing range high.
	candles[len(candles)-1].Close = 110
	s := NewBreakout(&candleProvider{candles: candles}, 20)
	signal, err := s.Analyze(context.Background(), "SOLUSDC")
	require.NoError(t, err)
	assert.True(t, signal.Buy)

	// Close below the trailing range low.
	candles[len(candles)-1].Close = 90
	signal, err = s.Analyze(context.Background(), "SOLUSDC")
	require.NoError(t, err)
	assert.True(t, signal.Sell)
}

func TestStrategiesPropagateProviderErrors(t *testing.T) {
	provider := &candleProvider{err: fmt.Errorf("exchange down")}
	for _, name := range DefaultRegistry().Names() {
		s, err := DefaultRegistry().New(name, provider)
		require.NoError(t, err)
		_, err = s.Analyze(context.Background(), "BTCUSDC")
		assert.Error(t, err, "strategy %s must surface fetch errors", name)
	}
}
