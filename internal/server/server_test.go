package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillerbot/tiller/internal/cycles"
	"github.com/tillerbot/tiller/internal/database"
	"github.com/tillerbot/tiller/internal/domain"
	"github.com/tillerbot/tiller/internal/portfolio"
	"github.com/tillerbot/tiller/internal/strategy"
)

// stubProvider is a minimal in-memory exchange backing the handler tests.
type stubProvider struct {
	mu       sync.Mutex
	prices   map[string]float64
	balances []domain.Balance
}

func (p *stubProvider) GetPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (p *stubProvider) FetchHistoricalData(_ context.Context, symbol string, _, _ time.Time, _ string) ([]domain.Candle, error) {
	return nil, fmt.Errorf("no candles for %s", symbol)
}

func (p *stubProvider) GetBalanceSummary(_ context.Context) ([]domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Balance(nil), p.balances...), nil
}

func (p *stubProvider) CreateOrder(_ context.Context, symbol string, side domain.Side, quantity float64) (*domain.OrderFill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &domain.OrderFill{
		OrderID:     "test-order",
		Symbol:      symbol,
		Side:        side,
		Price:       p.prices[symbol],
		ExecutedQty: quantity,
		Status:      "FILLED",
	}, nil
}

// stubStore keeps cost-basis records in memory.
type stubStore struct {
	mu      sync.Mutex
	records map[string]domain.AssetRecord
}

func (s *stubStore) GetBySymbol(symbol string) (*domain.AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[symbol]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *stubStore) RecordBuy(symbol string, quantity, price float64) (*domain.AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[symbol]
	record.Symbol = symbol
	record.Amount += quantity
	record.PurchasePrice = price
	s.records[symbol] = record
	return &record, nil
}

func (s *stubStore) RecordSell(symbol string, quantity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[symbol]
	record.Amount -= quantity
	s.records[symbol] = record
	return nil
}

func (s *stubStore) List() ([]domain.AssetRecord, error) {
	return nil, nil
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := zerolog.Nop()

	provider := &stubProvider{
		prices: map[string]float64{"BTCUSDC": 50000},
		balances: []domain.Balance{
			{Asset: "BTC", Free: 0.01},
			{Asset: domain.CashSymbol, Free: 500},
		},
	}
	store := &stubStore{records: map[string]domain.AssetRecord{
		"BTC": {Symbol: "BTC", Amount: 0.01, PurchasePrice: 40000},
	}}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "history.db"),
		Profile: database.ProfileLedger,
		Name:    "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	history, err := portfolio.NewHistoryRepository(db.Conn(), log)
	require.NoError(t, err)

	queue := portfolio.NewQuickSellQueue(log)
	manager := portfolio.NewManager(
		portfolio.NewCollector(provider, nil, 30, log),
		portfolio.NewAnalyzer(nil, log),
		portfolio.NewCalculator(portfolio.NewOptimizer(portfolio.OptimizerConfig{
			MinAllocation:          0.01,
			MaxAllocation:          0.40,
			MaxCorrelationExposure: 0.40,
			CorrelationThreshold:   0.70,
		}, log), 0.05, 0.15, log),
		portfolio.NewRebalancer(provider, store, queue, portfolio.RebalancerConfig{
			MinOrderValue: 10,
			MinAssetValue: 1,
			MinBuyValue:   5,
			MinProfit:     0.01,
		}, log),
		cycles.NewManager(provider, cycles.NewIntegrator(cycles.NewDetector(log), nopNotifier{}, log), 90, 8*time.Hour, log),
		queue,
		history,
		nopNotifier{},
		portfolio.ManagerConfig{
			RebalanceThreshold: 0.15,
			CheckInterval:      time.Minute,
		},
		log,
	)

	return New(Config{
		Log:        log,
		Port:       0,
		Manager:    manager,
		Strategies: strategy.DefaultRegistry(),
		Provider:   provider,
	})
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSummaryEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/portfolio/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary portfolio.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.InDelta(t, 1000.0, summary.TotalValue, 1e-6)
	assert.NotEmpty(t, summary.TargetAllocation)
}

func TestCycleEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/portfolio/cycle")
	require.Equal(t, http.StatusOK, rec.Code)

	var info cycles.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, cycles.CycleUnknown, info.Cycle)
}

func TestRebalanceEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/portfolio/rebalance")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "rebalanced")
}

func TestHistoryEndpointRejectsBadLimit(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/portfolio/history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/portfolio/history")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuickSellEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/portfolio/quick-sell/eth?reason=stop-loss")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "flagged", body["status"])
}

func TestStrategyListEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/strategies/")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"breakout", "mean_reversion", "trend_following"}, body["strategies"])
}

func TestStrategySignalEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/strategies/trend_following/signal")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "symbol is required")

	rec = doRequest(t, s, http.MethodGet, "/api/strategies/nope/signal?symbol=BTCUSDC")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The stub provider has no candles, so the fetch error surfaces as a
	// gateway failure.
	rec = doRequest(t, s, http.MethodGet, "/api/strategies/trend_following/signal?symbol=BTCUSDC")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUnknownRouteReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/portfolio/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
