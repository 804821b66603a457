package portfolio

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/domain"
)

// RebalancerConfig holds the trade-sizing floors.
type RebalancerConfig struct {
	// MinOrderValue is the exchange floor for a single order, in USDC.
	MinOrderValue float64
	// MinAssetValue is the holding value under which a position is left alone.
	MinAssetValue float64
	// MinBuyValue is the allocation deficit under which a buy is skipped.
	MinBuyValue float64
	// MinProfit is the fraction below which an unflagged sell is skipped.
	MinProfit float64
}

// Rebalancer plans and executes the trades that move a snapshot toward its
// target allocation. Sells execute before buys so freed cash can fund them.
type Rebalancer struct {
	provider  domain.MarketDataProvider
	store     domain.AssetStore
	quickSell *QuickSellQueue
	cfg       RebalancerConfig
	log       zerolog.Logger
}

// NewRebalancer creates a rebalancer. store may be backed by an empty ledger;
// a symbol with no cost-basis record is never sold unless quick-sell flagged.
func NewRebalancer(provider domain.MarketDataProvider, store domain.AssetStore, quickSell *QuickSellQueue, cfg RebalancerConfig, log zerolog.Logger) *Rebalancer {
	return &Rebalancer{
		provider:  provider,
		store:     store,
		quickSell: quickSell,
		cfg:       cfg,
		log:       log.With().Str("component", "rebalancer").Logger(),
	}
}

// PlanTrades computes the trade list for the snapshot. Sells come first,
// quick-sell flagged symbols liquidated in full ahead of the rest; buys are
// clamped to the cash the plan makes available and to the per-order exchange
// floor.
func (r *Rebalancer) PlanTrades(ctx context.Context, state *State) ([]domain.RebalanceTrade, error) {
	if state == nil || state.TotalValue <= 0 {
		return nil, fmt.Errorf("portfolio snapshot has no value")
	}
	if len(state.TargetAllocation) == 0 {
		return nil, fmt.Errorf("no target allocation to rebalance toward")
	}

	sells := r.planSells(ctx, state)

	projectedCash := state.CashBalance
	for _, s := range sells {
		projectedCash += s.Value
	}
	cashTarget := state.TargetAllocation[domain.CashSymbol] * state.TotalValue
	available := projectedCash - cashTarget

	buys := r.planBuys(ctx, state, available)

	trades := append(sells, buys...)
	r.log.Info().
		Int("sells", len(sells)).
		Int("buys", len(buys)).
		Float64("available_cash", available).
		Msg("Rebalance trades planned")
	return trades, nil
}

func (r *Rebalancer) planSells(ctx context.Context, state *State) []domain.RebalanceTrade {
	symbols := make([]string, 0, len(state.Assets))
	for symbol := range state.Assets {
		if symbol != domain.CashSymbol {
			symbols = append(symbols, symbol)
		}
	}
	// Flagged symbols sell first; ties break alphabetically for determinism.
	sort.Slice(symbols, func(i, j int) bool {
		fi, fj := r.flagged(symbols[i]), r.flagged(symbols[j])
		if fi != fj {
			return fi
		}
		return symbols[i] < symbols[j]
	})

	var sells []domain.RebalanceTrade
	for _, symbol := range symbols {
		asset := state.Assets[symbol]
		if asset.Value < r.cfg.MinAssetValue {
			continue
		}
		flagged := r.flagged(symbol)

		// A flagged position is liquidated in full; otherwise only the
		// excess over target is sold.
		excess := asset.Value
		if !flagged {
			target := state.TargetAllocation[symbol] * state.TotalValue
			excess = asset.Value - target
		}
		if excess < r.cfg.MinOrderValue {
			continue
		}

		price := asset.Price
		if price <= 0 {
			p, err := r.provider.GetPrice(ctx, symbol+domain.CashSymbol)
			if err != nil {
				r.log.Warn().Err(err).Str("symbol", symbol).Msg("No price for sell candidate, skipping")
				continue
			}
			price = p
		}

		if !flagged && !r.profitableToSell(symbol, price) {
			continue
		}

		sells = append(sells, domain.RebalanceTrade{
			Symbol:   symbol,
			Side:     domain.SideSell,
			Quantity: excess / price,
			Price:    price,
			Value:    excess,
		})
	}
	return sells
}

// profitableToSell applies the profit gate. A missing cost-basis record means
// the position's basis is unknown, so it is held rather than sold blind.
func (r *Rebalancer) profitableToSell(symbol string, price float64) bool {
	record, err := r.store.GetBySymbol(symbol)
	if err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("Cost-basis lookup failed, holding position")
		return false
	}
	if record == nil {
		r.log.Debug().Str("symbol", symbol).Msg("No cost-basis record, holding position")
		return false
	}
	profit := record.ProfitFraction(price)
	if profit < r.cfg.MinProfit {
		r.log.Debug().
			Str("symbol", symbol).
			Float64("profit", profit).
			Float64("min_profit", r.cfg.MinProfit).
			Msg("Sell below profit floor, skipping")
		return false
	}
	return true
}

func (r *Rebalancer) planBuys(ctx context.Context, state *State, available float64) []domain.RebalanceTrade {
	symbols := make([]string, 0, len(state.TargetAllocation))
	for symbol := range state.TargetAllocation {
		if symbol != domain.CashSymbol {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	var buys []domain.RebalanceTrade
	for _, symbol := range symbols {
		if available < r.cfg.MinOrderValue {
			break
		}
		target := state.TargetAllocation[symbol] * state.TotalValue
		current := 0.0
		if asset, ok := state.Assets[symbol]; ok {
			current = asset.Value
		}
		deficit := target - current
		if deficit < r.cfg.MinBuyValue {
			continue
		}

		value := deficit
		if value > available {
			value = available
		}
		if value < r.cfg.MinOrderValue {
			continue
		}

		price := 0.0
		if asset, ok := state.Assets[symbol]; ok && asset.Price > 0 {
			price = asset.Price
		} else {
			p, err := r.provider.GetPrice(ctx, symbol+domain.CashSymbol)
			if err != nil {
				r.log.Warn().Err(err).Str("symbol", symbol).Msg("No price for buy candidate, skipping")
				continue
			}
			price = p
		}
		if price <= 0 {
			continue
		}

		buys = append(buys, domain.RebalanceTrade{
			Symbol:   symbol,
			Side:     domain.SideBuy,
			Quantity: value / price,
			Price:    price,
			Value:    value,
		})
		available -= value
	}
	return buys
}

// Execute places the planned trades, sells first. A failed order is recorded
// on the trade and the batch continues; cost-basis records and quick-sell
// flags are updated only on a confirmed fill.
func (r *Rebalancer) Execute(ctx context.Context, trades []domain.RebalanceTrade) []domain.RebalanceTrade {
	executed := make([]domain.RebalanceTrade, 0, len(trades))
	for _, side := range []domain.Side{domain.SideSell, domain.SideBuy} {
		for _, trade := range trades {
			if trade.Side != side {
				continue
			}
			executed = append(executed, r.executeTrade(ctx, trade))
		}
	}
	return executed
}

func (r *Rebalancer) executeTrade(ctx context.Context, trade domain.RebalanceTrade) domain.RebalanceTrade {
	pair := trade.Symbol + domain.CashSymbol
	fill, err := r.provider.CreateOrder(ctx, pair, trade.Side, trade.Quantity)
	if err != nil {
		trade.Error = err.Error()
		r.log.Error().Err(err).
			Str("symbol", trade.Symbol).
			Str("side", string(trade.Side)).
			Msg("Order failed")
		return trade
	}
	if fill == nil {
		trade.Error = "order returned no fill"
		r.log.Warn().
			Str("symbol", trade.Symbol).
			Str("side", string(trade.Side)).
			Msg("Order returned no fill")
		return trade
	}
	if !fill.Filled() {
		trade.Error = fmt.Sprintf("order not filled: status %s", fill.Status)
		r.log.Warn().
			Str("symbol", trade.Symbol).
			Str("status", fill.Status).
			Msg("Order not filled")
		return trade
	}

	trade.Success = true
	trade.ExecutedPrice = fill.Price
	trade.ExecutedQty = fill.ExecutedQty

	switch trade.Side {
	case domain.SideBuy:
		if _, err := r.store.RecordBuy(trade.Symbol, fill.ExecutedQty, fill.Price); err != nil {
			r.log.Error().Err(err).Str("symbol", trade.Symbol).Msg("Failed to record buy")
		}
	case domain.SideSell:
		if err := r.store.RecordSell(trade.Symbol, fill.ExecutedQty); err != nil {
			r.log.Error().Err(err).Str("symbol", trade.Symbol).Msg("Failed to record sell")
		}
		r.quickSell.Take(trade.Symbol)
	}

	r.log.Info().
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("qty", fill.ExecutedQty).
		Float64("price", fill.Price).
		Msg("Order filled")
	return trade
}

func (r *Rebalancer) flagged(symbol string) bool {
	return r.quickSell != nil && r.quickSell.Contains(symbol)
}
