package portfolio

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// QuickSellQueue holds symbols flagged for liquidation on the next rebalance.
// Flagged symbols bypass the profit gate and are sold in full ahead of other
// sells. A flag is consumed only when the corresponding sell order fills.
type QuickSellQueue struct {
	mu      sync.Mutex
	flagged map[string]string
	log     zerolog.Logger
}

// NewQuickSellQueue creates an empty queue.
func NewQuickSellQueue(log zerolog.Logger) *QuickSellQueue {
	return &QuickSellQueue{
		flagged: make(map[string]string),
		log:     log.With().Str("component", "quick_sell").Logger(),
	}
}

// Flag marks a symbol for priority liquidation with an optional reason.
func (q *QuickSellQueue) Flag(symbol, reason string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}
	q.mu.Lock()
	q.flagged[symbol] = reason
	q.mu.Unlock()
	q.log.Info().Str("symbol", symbol).Str("reason", reason).Msg("Symbol flagged for quick sell")
}

// Contains reports whether the symbol is currently flagged.
func (q *QuickSellQueue) Contains(symbol string) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.flagged[symbol]
	return ok
}

// Take removes the symbol's flag and reports whether it was present.
func (q *QuickSellQueue) Take(symbol string) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.flagged[symbol]; !ok {
		return false
	}
	delete(q.flagged, symbol)
	q.log.Info().Str("symbol", symbol).Msg("Quick sell flag consumed")
	return true
}

// Flagged returns the currently flagged symbols, sorted.
func (q *QuickSellQueue) Flagged() []string {
	q.mu.Lock()
	symbols := make([]string, 0, len(q.flagged))
	for symbol := range q.flagged {
		symbols = append(symbols, symbol)
	}
	q.mu.Unlock()
	sort.Strings(symbols)
	return symbols
}
