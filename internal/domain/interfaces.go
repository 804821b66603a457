package domain

import (
	"context"
	"time"
)

// MarketDataProvider is the exchange port consumed by the engine. A nil price
// or empty candle list is reported as an error by implementations; callers
// degrade per asset rather than aborting the cycle.
type MarketDataProvider interface {
	// GetPrice returns the last traded price of a pair (e.g. "BTCUSDC").
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// FetchHistoricalData returns candles for the pair between start and end
	// at the given interval (e.g. "1d").
	FetchHistoricalData(ctx context.Context, symbol string, start, end time.Time, interval string) ([]Candle, error)

	// GetBalanceSummary returns all non-zero account balances.
	GetBalanceSummary(ctx context.Context) ([]Balance, error)

	// CreateOrder places a market order for the given base-asset quantity and
	// returns the fill result.
	CreateOrder(ctx context.Context, symbol string, side Side, quantity float64) (*OrderFill, error)
}

// AssetStore is the persistence port for cost-basis records.
type AssetStore interface {
	// GetBySymbol returns the record for a base symbol, or nil when absent.
	GetBySymbol(symbol string) (*AssetRecord, error)

	// RecordBuy creates the record for a first buy, or re-averages the stored
	// purchase price weighted by quantity for a repeat buy. The upsert is
	// atomic with respect to concurrent readers.
	RecordBuy(symbol string, quantity, price float64) (*AssetRecord, error)

	// RecordSell decrements the stored quantity and deletes the record when
	// the remainder is numerically negligible.
	RecordSell(symbol string, quantity float64) error

	// List returns all records.
	List() ([]AssetRecord, error)
}

// Notifier is the fire-and-forget message delivery port. Implementations must
// never let a delivery failure propagate into the trading path; errors are
// returned for logging only.
type Notifier interface {
	Send(ctx context.Context, message string) error
}
