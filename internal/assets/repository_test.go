package assets

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillerbot/tiller/internal/database"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "assets.db"),
		Profile: database.ProfileLedger,
		Name:    "assets-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, err)

	return repo
}

func TestRecordBuyFirstPurchase(t *testing.T) {
	repo := newTestRepository(t)

	rec, err := repo.RecordBuy("btc", 0.5, 40000)
	require.NoError(t, err)

	assert.Equal(t, "BTC", rec.Symbol)
	assert.InDelta(t, 0.5, rec.Amount, 1e-9)
	assert.InDelta(t, 40000, rec.PurchasePrice, 1e-9)
	assert.InDelta(t, 20000, rec.TotalCost, 1e-6)
}

func TestRecordBuyWeightedAverage(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.RecordBuy("ETH", 1.0, 2000)
	require.NoError(t, err)

	rec, err := repo.RecordBuy("ETH", 1.0, 3000)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, rec.Amount, 1e-9)
	assert.InDelta(t, 2500, rec.PurchasePrice, 1e-6)
	assert.InDelta(t, 5000, rec.TotalCost, 1e-6)

	stored, err := repo.GetBySymbol("ETH")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, 2500, stored.PurchasePrice, 1e-6)
}

func TestRecordBuyRejectsInvalidInput(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.RecordBuy("BTC", 0, 40000)
	assert.Error(t, err)

	_, err = repo.RecordBuy("BTC", 1, -5)
	assert.Error(t, err)
}

func TestRecordSellPartial(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.RecordBuy("SOL", 10, 100)
	require.NoError(t, err)

	require.NoError(t, repo.RecordSell("SOL", 4))

	rec, err := repo.GetBySymbol("SOL")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 6, rec.Amount, 1e-9)
	// Purchase price is untouched by a sell.
	assert.InDelta(t, 100, rec.PurchasePrice, 1e-9)
	assert.InDelta(t, 600, rec.TotalCost, 1e-6)
}

func TestRecordSellDeletesNegligibleRemainder(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.RecordBuy("BNB", 2, 300)
	require.NoError(t, err)

	require.NoError(t, repo.RecordSell("BNB", 2))

	rec, err := repo.GetBySymbol("BNB")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordSellUnknownSymbol(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.RecordSell("DOGE", 1)
	assert.Error(t, err)
}

func TestGetBySymbolMissing(t *testing.T) {
	repo := newTestRepository(t)

	rec, err := repo.GetBySymbol("XRP")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestList(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.RecordBuy("ETH", 1, 2000)
	require.NoError(t, err)
	_, err = repo.RecordBuy("BTC", 0.1, 40000)
	require.NoError(t, err)

	records, err := repo.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "BTC", records[0].Symbol)
	assert.Equal(t, "ETH", records[1].Symbol)
}
