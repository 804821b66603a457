package portfolio

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestQuickSellQueueFlagAndTake(t *testing.T) {
	q := NewQuickSellQueue(zerolog.Nop())

	assert.False(t, q.Contains("BTC"))
	assert.False(t, q.Take("BTC"), "taking an unflagged symbol is a no-op")

	q.Flag("btc", "stop loss")
	assert.True(t, q.Contains("BTC"), "symbols are normalized to upper case")
	assert.True(t, q.Contains(" btc "))

	assert.True(t, q.Take("BTC"))
	assert.False(t, q.Contains("BTC"))
	assert.False(t, q.Take("BTC"), "a flag can be consumed only once")
}

func TestQuickSellQueueFlaggedSorted(t *testing.T) {
	q := NewQuickSellQueue(zerolog.Nop())
	q.Flag("SOL", "")
	q.Flag("BTC", "")
	q.Flag("ETH", "")

	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, q.Flagged())
}

func TestQuickSellQueueIgnoresEmptySymbol(t *testing.T) {
	q := NewQuickSellQueue(zerolog.Nop())
	q.Flag("  ", "noise")
	assert.Empty(t, q.Flagged())
}
