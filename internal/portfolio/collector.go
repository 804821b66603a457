package portfolio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/domain"
)

const (
	// minAssetValueForSnapshot filters out balances too small to matter.
	minAssetValueForSnapshot = 0.1

	// minCandlesPerSymbol excludes symbols with too little history to be
	// optimizable.
	minCandlesPerSymbol = 10

	historyWorkers = 4
)

// Collector builds the working snapshot: balances, prices, allocations and
// per-symbol history for the candidate universe.
type Collector struct {
	provider       domain.MarketDataProvider
	log            zerolog.Logger
	universe       []string
	marketDataDays int
}

// NewCollector creates a snapshot collector over the given base-asset
// universe.
func NewCollector(provider domain.MarketDataProvider, universe []string, marketDataDays int, log zerolog.Logger) *Collector {
	return &Collector{
		provider:       provider,
		log:            log.With().Str("component", "collector").Logger(),
		universe:       universe,
		marketDataDays: marketDataDays,
	}
}

// Snapshot builds a fresh PortfolioState. Per-symbol history fetches fan out
// over a bounded worker pool; results merge into the snapshot only after all
// workers finish, so the state is never partially visible.
func (c *Collector) Snapshot(ctx context.Context) (*State, error) {
	state := NewState()
	state.CollectedAt = time.Now()

	if err := c.collectBalances(ctx, state); err != nil {
		return nil, err
	}
	c.collectMarketData(ctx, state)

	return state, nil
}

func (c *Collector) collectBalances(ctx context.Context, state *State) error {
	balances, err := c.provider.GetBalanceSummary(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect balances: %w", err)
	}

	totalValue := 0.0
	for _, balance := range balances {
		total := balance.Total()
		if balance.Asset == domain.CashSymbol {
			state.CashBalance = total
			continue
		}
		if total <= 0 {
			continue
		}

		price, err := c.provider.GetPrice(ctx, balance.Asset+domain.CashSymbol)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", balance.Asset).Msg("Skipping asset, price unavailable")
			continue
		}

		value := total * price
		if value <= minAssetValueForSnapshot {
			continue
		}

		state.Assets[balance.Asset] = Asset{
			Symbol:  balance.Asset,
			Balance: total,
			Free:    balance.Free,
			Locked:  balance.Locked,
			Price:   price,
			Value:   value,
		}
		totalValue += value
	}
	totalValue += state.CashBalance
	state.TotalValue = totalValue

	if totalValue > 0 {
		for symbol, asset := range state.Assets {
			state.CurrentAllocation[symbol] = asset.Value / totalValue
		}
		state.CurrentAllocation[domain.CashSymbol] = state.CashBalance / totalValue
	} else {
		state.CurrentAllocation[domain.CashSymbol] = 1.0
	}

	c.log.Debug().
		Float64("total_value", state.TotalValue).
		Float64("cash", state.CashBalance).
		Int("assets", len(state.Assets)).
		Msg("Balances collected")

	return nil
}

// collectMarketData fetches daily candles for every universe symbol. A failed
// symbol is logged and dropped from the valid set; it never fails the
// snapshot.
func (c *Collector) collectMarketData(ctx context.Context, state *State) {
	end := time.Now()
	start := end.AddDate(0, 0, -c.marketDataDays)

	type result struct {
		symbol  string
		candles []domain.Candle
	}

	jobs := make(chan string)
	results := make(chan result)

	var wg sync.WaitGroup
	for w := 0; w < historyWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				candles, err := c.provider.FetchHistoricalData(ctx, symbol+domain.CashSymbol, start, end, "1d")
				if err != nil {
					c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch history")
					continue
				}
				results <- result{symbol: symbol, candles: candles}
			}
		}()
	}

	go func() {
		for _, symbol := range c.universe {
			jobs <- symbol
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if len(res.candles) > minCandlesPerSymbol {
			state.MarketData[res.symbol] = res.candles
		}
	}

	state.ValidSymbols = make([]string, 0, len(state.MarketData))
	for symbol := range state.MarketData {
		state.ValidSymbols = append(state.ValidSymbols, symbol)
	}
	sort.Strings(state.ValidSymbols)

	c.log.Info().
		Int("requested", len(c.universe)).
		Int("valid", len(state.ValidSymbols)).
		Msg("Market data collected")
}
