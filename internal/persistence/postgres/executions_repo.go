package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sawpanic/mtfengine/internal/persistence"
)

// executionsRepo implements persistence.ExecutionsRepo for PostgreSQL.
type executionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewExecutionsRepo creates a new PostgreSQL execution-ledger repository.
func NewExecutionsRepo(db *sqlx.DB, timeout time.Duration) persistence.ExecutionsRepo {
	return &executionsRepo{db: db, timeout: timeout}
}

// Insert adds a new execution record.
func (r *executionsRepo) Insert(ctx context.Context, e persistence.Execution) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !isKnownVenue(e.Venue) {
		return fmt.Errorf("invalid venue: %s", e.Venue)
	}

	attributesJSON, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
		INSERT INTO executions (ts, symbol, venue, side, price, qty, order_id, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		e.Timestamp, e.Symbol, e.Venue, e.Side,
		e.Price, e.Qty, e.OrderID, attributesJSON).
		Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate execution: %w", err)
		}
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

// InsertBatch adds multiple executions atomically.
func (r *executionsRepo) InsertBatch(ctx context.Context, es []persistence.Execution) error {
	if len(es) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(es)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO executions (ts, symbol, venue, side, price, qty, order_id, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range es {
		if !isKnownVenue(e.Venue) {
			return fmt.Errorf("invalid venue in batch: %s", e.Venue)
		}

		attributesJSON, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			e.Timestamp, e.Symbol, e.Venue, e.Side,
			e.Price, e.Qty, e.OrderID, attributesJSON); err != nil {
			return fmt.Errorf("failed to insert execution in batch: %w", err)
		}
	}

	return tx.Commit()
}

// ListBySymbol retrieves executions for a symbol within a time range.
func (r *executionsRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, venue, side, price, qty, order_id, attributes, created_at
		FROM executions
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions by symbol: %w", err)
	}
	defer rows.Close()

	return r.scanExecutions(rows)
}

// GetByOrderID finds an execution by its order ID for reconciliation.
func (r *executionsRepo) GetByOrderID(ctx context.Context, orderID string) (*persistence.Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, venue, side, price, qty, order_id, attributes, created_at
		FROM executions
		WHERE order_id = $1
		ORDER BY ts DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, orderID)

	e, err := r.scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get execution by order ID: %w", err)
	}

	return e, nil
}

// GetLatest returns the most recent executions across all symbols/venues.
func (r *executionsRepo) GetLatest(ctx context.Context, limit int) ([]persistence.Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, venue, side, price, qty, order_id, attributes, created_at
		FROM executions
		ORDER BY ts DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest executions: %w", err)
	}
	defer rows.Close()

	return r.scanExecutions(rows)
}

// Count returns the total executions in a time range.
func (r *executionsRepo) Count(ctx context.Context, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT COUNT(*) FROM executions WHERE ts >= $1 AND ts <= $2`

	var count int64
	if err := r.db.QueryRowxContext(ctx, query, tr.From, tr.To).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return count, nil
}

// CountByVenue returns execution counts grouped by venue.
func (r *executionsRepo) CountByVenue(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT venue, COUNT(*)
		FROM executions
		WHERE ts >= $1 AND ts <= $2
		GROUP BY venue
		ORDER BY venue`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions by venue: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var venue string
		var count int64
		if err := rows.Scan(&venue, &count); err != nil {
			return nil, fmt.Errorf("failed to scan venue count: %w", err)
		}
		counts[venue] = count
	}

	return counts, nil
}

func (r *executionsRepo) scanExecutions(rows *sqlx.Rows) ([]persistence.Execution, error) {
	var out []persistence.Execution

	for rows.Next() {
		e, err := r.scanExecutionFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

func (r *executionsRepo) scanExecution(row *sqlx.Row) (*persistence.Execution, error) {
	var e persistence.Execution
	var attributesJSON []byte

	err := row.Scan(
		&e.ID, &e.Timestamp, &e.Symbol, &e.Venue,
		&e.Side, &e.Price, &e.Qty, &e.OrderID,
		&attributesJSON, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalAttributes(attributesJSON, &e.Attributes); err != nil {
		return nil, err
	}

	return &e, nil
}

func (r *executionsRepo) scanExecutionFromRows(rows *sqlx.Rows) (*persistence.Execution, error) {
	var e persistence.Execution
	var attributesJSON []byte

	err := rows.Scan(
		&e.ID, &e.Timestamp, &e.Symbol, &e.Venue,
		&e.Side, &e.Price, &e.Qty, &e.OrderID,
		&attributesJSON, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalAttributes(attributesJSON, &e.Attributes); err != nil {
		return nil, err
	}

	return &e, nil
}

func unmarshalAttributes(raw []byte, dst *map[string]interface{}) error {
	if len(raw) == 0 {
		*dst = make(map[string]interface{})
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return nil
}

func isKnownVenue(venue string) bool {
	known := map[string]bool{
		"binance": true,
		"kraken":  true,
		"offline": true,
	}
	return known[venue]
}
