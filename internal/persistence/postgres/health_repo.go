package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/mtfengine/internal/persistence"
)

// healthRepo implements persistence.HealthRepo for PostgreSQL.
type healthRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHealthRepo creates a new PostgreSQL health/KPI snapshot repository.
func NewHealthRepo(db *sqlx.DB, timeout time.Duration) persistence.HealthRepo {
	return &healthRepo{db: db, timeout: timeout}
}

// Upsert inserts or updates a health snapshot (unique per ts/symbol/timeframe).
func (r *healthRepo) Upsert(ctx context.Context, s persistence.HealthSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metadataJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO health_snapshots
		(ts, symbol, timeframe, rolling_sharpe, max_drawdown_pct, in_band_share_pct,
		 hit_rate_pct, turnover_pct, metadata, processing_latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ts, symbol, timeframe) DO UPDATE SET
			rolling_sharpe = EXCLUDED.rolling_sharpe,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			in_band_share_pct = EXCLUDED.in_band_share_pct,
			hit_rate_pct = EXCLUDED.hit_rate_pct,
			turnover_pct = EXCLUDED.turnover_pct,
			metadata = EXCLUDED.metadata
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		s.Timestamp, s.Symbol, s.Timeframe, s.RollingSharpe, s.MaxDrawdownPct,
		s.InBandSharePct, s.HitRatePct, s.TurnoverPct, metadataJSON, s.ProcessingLatMS).
		Scan(&s.ID, &s.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert health snapshot: %w", err)
	}

	return nil
}

// UpsertBatch processes multiple health snapshots atomically.
func (r *healthRepo) UpsertBatch(ctx context.Context, snapshots []persistence.HealthSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(snapshots)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO health_snapshots
		(ts, symbol, timeframe, rolling_sharpe, max_drawdown_pct, in_band_share_pct,
		 hit_rate_pct, turnover_pct, metadata, processing_latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ts, symbol, timeframe) DO UPDATE SET
			rolling_sharpe = EXCLUDED.rolling_sharpe,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			in_band_share_pct = EXCLUDED.in_band_share_pct,
			hit_rate_pct = EXCLUDED.hit_rate_pct,
			turnover_pct = EXCLUDED.turnover_pct,
			metadata = EXCLUDED.metadata`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range snapshots {
		metadataJSON, err := json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			s.Timestamp, s.Symbol, s.Timeframe, s.RollingSharpe, s.MaxDrawdownPct,
			s.InBandSharePct, s.HitRatePct, s.TurnoverPct, metadataJSON, s.ProcessingLatMS); err != nil {
			return fmt.Errorf("failed to insert health snapshot in batch: %w", err)
		}
	}

	return tx.Commit()
}

// Window retrieves health snapshots within a time range, for replay/backtest.
func (r *healthRepo) Window(ctx context.Context, tr persistence.TimeRange) ([]persistence.HealthSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, timeframe, rolling_sharpe, max_drawdown_pct, in_band_share_pct,
		       hit_rate_pct, turnover_pct, metadata, processing_latency_ms, created_at
		FROM health_snapshots
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query health snapshot window: %w", err)
	}
	defer rows.Close()

	return r.scanSnapshots(rows)
}

// ListBySymbol retrieves health snapshots for a symbol within a time range.
func (r *healthRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.HealthSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, timeframe, rolling_sharpe, max_drawdown_pct, in_band_share_pct,
		       hit_rate_pct, turnover_pct, metadata, processing_latency_ms, created_at
		FROM health_snapshots
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query health snapshots by symbol: %w", err)
	}
	defer rows.Close()

	return r.scanSnapshots(rows)
}

// Latest returns the most recent health snapshot for a symbol/timeframe.
func (r *healthRepo) Latest(ctx context.Context, symbol, timeframe string) (*persistence.HealthSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, timeframe, rolling_sharpe, max_drawdown_pct, in_band_share_pct,
		       hit_rate_pct, turnover_pct, metadata, processing_latency_ms, created_at
		FROM health_snapshots
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY ts DESC
		LIMIT 1`

	rows, err := r.db.QueryxContext(ctx, query, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest health snapshot: %w", err)
	}
	defer rows.Close()

	snaps, err := r.scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

func (r *healthRepo) scanSnapshots(rows *sqlx.Rows) ([]persistence.HealthSnapshot, error) {
	var out []persistence.HealthSnapshot

	for rows.Next() {
		var s persistence.HealthSnapshot
		var metadataJSON []byte

		err := rows.Scan(&s.ID, &s.Timestamp, &s.Symbol, &s.Timeframe,
			&s.RollingSharpe, &s.MaxDrawdownPct, &s.InBandSharePct,
			&s.HitRatePct, &s.TurnoverPct, &metadataJSON, &s.ProcessingLatMS, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan health snapshot: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &s.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}
