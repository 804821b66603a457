// Package domain holds the core types and port interfaces shared across the
// portfolio engine. It has no infrastructure dependencies.
package domain

import "time"

// CashSymbol is the stablecoin every valuation and cash reserve is expressed in.
const CashSymbol = "USDC"

// Candle is one OHLCV observation of a trading pair.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Closes extracts the close series from a candle slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volume series from a candle slice.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// Balance is one asset row from the exchange account summary.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total returns free plus locked balance.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderFill is the execution result reported by the exchange for a market order.
type OrderFill struct {
	OrderID     string
	Symbol      string
	Side        Side
	Price       float64
	ExecutedQty float64
	Fee         float64
	Status      string
}

// Filled reports whether the order executed completely.
func (f *OrderFill) Filled() bool {
	return f != nil && f.Status == "FILLED"
}

// RebalanceTrade is one planned (and later executed) rebalancing operation.
// Quantity and Value are in base-asset units and quote (USDC) terms.
type RebalanceTrade struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Value    float64 `json:"value"`

	// Execution result, populated by the rebalancer.
	Success       bool    `json:"success"`
	ExecutedPrice float64 `json:"executed_price,omitempty"`
	ExecutedQty   float64 `json:"executed_qty,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// AssetRecord is the persisted cost-basis record for one held asset. It is the
// single source of truth for profit gating: exchange order history may be
// incomplete or rate-limited at rebalance time.
type AssetRecord struct {
	Symbol        string
	Amount        float64
	PurchasePrice float64 // weighted-average cost basis in USDC
	TotalCost     float64
	UpdatedAt     time.Time
}

// ProfitFraction returns the unrealized profit of the record at the given
// market price, as a fraction of the cost basis.
func (r AssetRecord) ProfitFraction(price float64) float64 {
	if r.PurchasePrice <= 0 {
		return 0
	}
	return (price - r.PurchasePrice) / r.PurchasePrice
}

// RiskMetrics summarizes portfolio-level risk for one evaluation cycle.
type RiskMetrics struct {
	AnnualReturn     float64 `json:"annual_return"`
	AnnualVolatility float64 `json:"annual_volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
}
