package portfolio

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/domain"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS rebalances (
	id           TEXT PRIMARY KEY,
	executed_at  TEXT NOT NULL,
	total_value  REAL NOT NULL,
	cycle        TEXT NOT NULL,
	trades       TEXT NOT NULL,
	succeeded    INTEGER NOT NULL,
	failed       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rebalances_executed_at ON rebalances(executed_at);
`

// RebalanceRecord is one completed rebalance run.
type RebalanceRecord struct {
	ID         string                  `json:"id"`
	ExecutedAt time.Time               `json:"executed_at"`
	TotalValue float64                 `json:"total_value"`
	Cycle      string                  `json:"cycle"`
	Trades     []domain.RebalanceTrade `json:"trades"`
	Succeeded  int                     `json:"succeeded"`
	Failed     int                     `json:"failed"`
}

// HistoryRepository persists rebalance runs to sqlite.
type HistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryRepository creates the repository and ensures its schema.
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) (*HistoryRepository, error) {
	if _, err := db.Exec(historySchema); err != nil {
		return nil, fmt.Errorf("failed to create rebalance history schema: %w", err)
	}
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("component", "rebalance_history").Logger(),
	}, nil
}

// Record stores a completed run and returns it with its generated id.
func (r *HistoryRepository) Record(totalValue float64, cycle string, trades []domain.RebalanceTrade) (*RebalanceRecord, error) {
	record := &RebalanceRecord{
		ID:         uuid.New().String(),
		ExecutedAt: time.Now().UTC(),
		TotalValue: totalValue,
		Cycle:      cycle,
		Trades:     trades,
	}
	for _, t := range trades {
		if t.Success {
			record.Succeeded++
		} else {
			record.Failed++
		}
	}

	payload, err := json.Marshal(trades)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trades: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO rebalances (id, executed_at, total_value, cycle, trades, succeeded, failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ExecutedAt.Format(time.RFC3339Nano),
		record.TotalValue,
		record.Cycle,
		string(payload),
		record.Succeeded,
		record.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record rebalance: %w", err)
	}

	r.log.Info().
		Str("id", record.ID).
		Int("succeeded", record.Succeeded).
		Int("failed", record.Failed).
		Msg("Rebalance recorded")
	return record, nil
}

// Recent returns the most recent runs, newest first.
func (r *HistoryRepository) Recent(limit int) ([]RebalanceRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(
		`SELECT id, executed_at, total_value, cycle, trades, succeeded, failed
		 FROM rebalances ORDER BY executed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance history: %w", err)
	}
	defer rows.Close()

	var records []RebalanceRecord
	for rows.Next() {
		var rec RebalanceRecord
		var executedAt, payload string
		if err := rows.Scan(&rec.ID, &executedAt, &rec.TotalValue, &rec.Cycle, &payload, &rec.Succeeded, &rec.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan rebalance row: %w", err)
		}
		rec.ExecutedAt, err = time.Parse(time.RFC3339Nano, executedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rebalance timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Trades); err != nil {
			return nil, fmt.Errorf("failed to decode trades: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
