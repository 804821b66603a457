package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tillerbot/tiller/internal/domain"
)

// fakeProvider is an in-memory exchange for tests.
type fakeProvider struct {
	mu       sync.Mutex
	prices   map[string]float64
	balances []domain.Balance
	candles  map[string][]domain.Candle

	orders     []placedOrder
	orderErr   error
	nilFill    bool   // CreateOrder reports success with no fill
	fillStatus string // defaults to FILLED
}

type placedOrder struct {
	symbol   string
	side     domain.Side
	quantity float64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		prices:  make(map[string]float64),
		candles: make(map[string][]domain.Candle),
	}
}

func (p *fakeProvider) GetPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (p *fakeProvider) FetchHistoricalData(_ context.Context, symbol string, _, _ time.Time, _ string) ([]domain.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	candles, ok := p.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}
	return candles, nil
}

func (p *fakeProvider) GetBalanceSummary(_ context.Context) ([]domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Balance(nil), p.balances...), nil
}

func (p *fakeProvider) CreateOrder(_ context.Context, symbol string, side domain.Side, quantity float64) (*domain.OrderFill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, placedOrder{symbol: symbol, side: side, quantity: quantity})
	if p.orderErr != nil {
		return nil, p.orderErr
	}
	if p.nilFill {
		return nil, nil
	}
	status := p.fillStatus
	if status == "" {
		status = "FILLED"
	}
	return &domain.OrderFill{
		OrderID:     fmt.Sprintf("order-%d", len(p.orders)),
		Symbol:      symbol,
		Side:        side,
		Price:       p.prices[symbol],
		ExecutedQty: quantity,
		Status:      status,
	}, nil
}

func (p *fakeProvider) placedOrders() []placedOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]placedOrder(nil), p.orders...)
}

// fakeStore is an in-memory cost-basis ledger for tests.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]domain.AssetRecord
	buys    []placedOrder
	sells   []placedOrder
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]domain.AssetRecord)}
}

func (s *fakeStore) put(symbol string, amount, purchasePrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[symbol] = domain.AssetRecord{
		Symbol:        symbol,
		Amount:        amount,
		PurchasePrice: purchasePrice,
		TotalCost:     amount * purchasePrice,
		UpdatedAt:     time.Now(),
	}
}

func (s *fakeStore) GetBySymbol(symbol string) (*domain.AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[symbol]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *fakeStore) RecordBuy(symbol string, quantity, price float64) (*domain.AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buys = append(s.buys, placedOrder{symbol: symbol, side: domain.SideBuy, quantity: quantity})
	record := s.records[symbol]
	record.Symbol = symbol
	record.Amount += quantity
	record.PurchasePrice = price
	s.records[symbol] = record
	return &record, nil
}

func (s *fakeStore) RecordSell(symbol string, quantity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sells = append(s.sells, placedOrder{symbol: symbol, side: domain.SideSell, quantity: quantity})
	record, ok := s.records[symbol]
	if !ok {
		return fmt.Errorf("no record for %s", symbol)
	}
	record.Amount -= quantity
	s.records[symbol] = record
	return nil
}

func (s *fakeStore) List() ([]domain.AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AssetRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

// recordingNotifier captures sent messages.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Send(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}
