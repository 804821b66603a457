// Package assets persists cost-basis records for held assets. The stored
// weighted-average purchase price is the single source of truth for the
// rebalancer's profit gate.
package assets

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/domain"
)

// negligibleAmount is the remainder below which a sold-down record is deleted
// instead of kept as dust.
const negligibleAmount = 1e-5

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	symbol         TEXT PRIMARY KEY,
	amount         REAL NOT NULL,
	purchase_price REAL NOT NULL,
	total_cost     REAL NOT NULL,
	updated_at     INTEGER NOT NULL
);
`

// Repository handles cost-basis database operations. It implements
// domain.AssetStore.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new asset repository and ensures the schema exists.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create assets schema: %w", err)
	}
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "assets").Logger(),
	}, nil
}

// GetBySymbol returns the record for a base symbol, or nil when absent.
func (r *Repository) GetBySymbol(symbol string) (*domain.AssetRecord, error) {
	query := `SELECT symbol, amount, purchase_price, total_cost, updated_at FROM assets WHERE symbol = ?`

	var rec domain.AssetRecord
	var updatedAt int64
	err := r.db.QueryRow(query, normalize(symbol)).Scan(
		&rec.Symbol, &rec.Amount, &rec.PurchasePrice, &rec.TotalCost, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query asset %s: %w", symbol, err)
	}
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	return &rec, nil
}

// RecordBuy creates the record for a first buy, or re-averages the stored
// purchase price weighted by quantity for a repeat buy. The read-modify-write
// runs in one transaction so concurrent readers never observe a partial
// update.
func (r *Repository) RecordBuy(symbol string, quantity, price float64) (*domain.AssetRecord, error) {
	if quantity <= 0 || price <= 0 {
		return nil, fmt.Errorf("invalid buy for %s: quantity=%.8f price=%.8f", symbol, quantity, price)
	}
	symbol = normalize(symbol)

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin buy transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var amount, purchasePrice float64
	err = tx.QueryRow(`SELECT amount, purchase_price FROM assets WHERE symbol = ?`, symbol).
		Scan(&amount, &purchasePrice)

	now := time.Now()
	rec := &domain.AssetRecord{Symbol: symbol, UpdatedAt: now}

	switch {
	case err == sql.ErrNoRows:
		rec.Amount = quantity
		rec.PurchasePrice = price
		rec.TotalCost = quantity * price
		_, err = tx.Exec(
			`INSERT INTO assets (symbol, amount, purchase_price, total_cost, updated_at) VALUES (?, ?, ?, ?, ?)`,
			symbol, rec.Amount, rec.PurchasePrice, rec.TotalCost, now.Unix(),
		)
	case err == nil:
		total := amount + quantity
		weighted := (amount*purchasePrice + quantity*price) / total
		rec.Amount = total
		rec.PurchasePrice = weighted
		rec.TotalCost = total * weighted
		_, err = tx.Exec(
			`UPDATE assets SET amount = ?, purchase_price = ?, total_cost = ?, updated_at = ? WHERE symbol = ?`,
			rec.Amount, rec.PurchasePrice, rec.TotalCost, now.Unix(), symbol,
		)
	default:
		return nil, fmt.Errorf("failed to read asset %s: %w", symbol, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert asset %s: %w", symbol, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit buy for %s: %w", symbol, err)
	}

	r.log.Info().
		Str("symbol", symbol).
		Float64("amount", rec.Amount).
		Float64("purchase_price", rec.PurchasePrice).
		Msg("Cost basis updated after buy")

	return rec, nil
}

// RecordSell decrements the stored quantity and deletes the record when the
// remainder is numerically negligible. Selling an unknown symbol is an error:
// the profit gate should have prevented that trade.
func (r *Repository) RecordSell(symbol string, quantity float64) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid sell quantity for %s: %.8f", symbol, quantity)
	}
	symbol = normalize(symbol)

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin sell transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var amount, purchasePrice float64
	err = tx.QueryRow(`SELECT amount, purchase_price FROM assets WHERE symbol = ?`, symbol).
		Scan(&amount, &purchasePrice)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no cost-basis record for %s", symbol)
	}
	if err != nil {
		return fmt.Errorf("failed to read asset %s: %w", symbol, err)
	}

	remaining := amount - quantity
	if remaining <= negligibleAmount {
		if _, err := tx.Exec(`DELETE FROM assets WHERE symbol = ?`, symbol); err != nil {
			return fmt.Errorf("failed to delete asset %s: %w", symbol, err)
		}
		r.log.Info().Str("symbol", symbol).Msg("Cost-basis record deleted (position closed)")
	} else {
		_, err := tx.Exec(
			`UPDATE assets SET amount = ?, total_cost = ?, updated_at = ? WHERE symbol = ?`,
			remaining, remaining*purchasePrice, time.Now().Unix(), symbol,
		)
		if err != nil {
			return fmt.Errorf("failed to update asset %s: %w", symbol, err)
		}
		r.log.Info().
			Str("symbol", symbol).
			Float64("remaining", remaining).
			Msg("Cost basis updated after sell")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sell for %s: %w", symbol, err)
	}

	return nil
}

// List returns all records ordered by symbol.
func (r *Repository) List() ([]domain.AssetRecord, error) {
	rows, err := r.db.Query(`SELECT symbol, amount, purchase_price, total_cost, updated_at FROM assets ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var records []domain.AssetRecord
	for rows.Next() {
		var rec domain.AssetRecord
		var updatedAt int64
		if err := rows.Scan(&rec.Symbol, &rec.Amount, &rec.PurchasePrice, &rec.TotalCost, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}
		rec.UpdatedAt = time.Unix(updatedAt, 0)
		records = append(records, rec)
	}

	return records, rows.Err()
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
