package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/mtfengine/internal/persistence"
)

// banditRepo implements persistence.BanditRepo for PostgreSQL.
type banditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBanditRepo creates a new PostgreSQL bandit/BMA snapshot repository.
func NewBanditRepo(db *sqlx.DB, timeout time.Duration) persistence.BanditRepo {
	return &banditRepo{db: db, timeout: timeout}
}

// Upsert inserts or updates the bandit snapshot for a (timeframe, ts) pair.
func (r *banditRepo) Upsert(ctx context.Context, s persistence.BanditSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	countsJSON, err := json.Marshal(s.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}
	meansJSON, err := json.Marshal(s.Means)
	if err != nil {
		return fmt.Errorf("failed to marshal means: %w", err)
	}
	variancesJSON, err := json.Marshal(s.Variances)
	if err != nil {
		return fmt.Errorf("failed to marshal variances: %w", err)
	}
	bmaJSON, err := json.Marshal(s.BMAWeights)
	if err != nil {
		return fmt.Errorf("failed to marshal bma weights: %w", err)
	}
	metadataJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO bandit_snapshots
		(ts, timeframe, chosen_arm, counts, means, variances, bma_weights, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ts, timeframe) DO UPDATE SET
			chosen_arm = EXCLUDED.chosen_arm,
			counts = EXCLUDED.counts,
			means = EXCLUDED.means,
			variances = EXCLUDED.variances,
			bma_weights = EXCLUDED.bma_weights,
			metadata = EXCLUDED.metadata
		RETURNING created_at`

	err = r.db.QueryRowxContext(ctx, query,
		s.Timestamp, s.Timeframe, s.ChosenArm, countsJSON, meansJSON,
		variancesJSON, bmaJSON, metadataJSON).
		Scan(&s.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert bandit snapshot: %w", err)
	}

	return nil
}

// Latest returns the most recent bandit snapshot for a timeframe.
func (r *banditRepo) Latest(ctx context.Context, timeframe string) (*persistence.BanditSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ts, timeframe, chosen_arm, counts, means, variances, bma_weights, metadata, created_at
		FROM bandit_snapshots
		WHERE timeframe = $1
		ORDER BY ts DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, timeframe)
	snap, err := r.scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest bandit snapshot: %w", err)
	}

	return snap, nil
}

// ListRange retrieves bandit snapshot history within a time window.
func (r *banditRepo) ListRange(ctx context.Context, timeframe string, tr persistence.TimeRange) ([]persistence.BanditSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ts, timeframe, chosen_arm, counts, means, variances, bma_weights, metadata, created_at
		FROM bandit_snapshots
		WHERE timeframe = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC`

	rows, err := r.db.QueryxContext(ctx, query, timeframe, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query bandit snapshots: %w", err)
	}
	defer rows.Close()

	return r.scanSnapshots(rows)
}

// ArmHistory retrieves the snapshot history during which a specific arm
// was chosen, for offline bandit-behavior analysis.
func (r *banditRepo) ArmHistory(ctx context.Context, timeframe, arm string, tr persistence.TimeRange) ([]persistence.BanditSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ts, timeframe, chosen_arm, counts, means, variances, bma_weights, metadata, created_at
		FROM bandit_snapshots
		WHERE timeframe = $1 AND chosen_arm = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts DESC`

	rows, err := r.db.QueryxContext(ctx, query, timeframe, arm, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query arm history: %w", err)
	}
	defer rows.Close()

	return r.scanSnapshots(rows)
}

func (r *banditRepo) scanSnapshots(rows *sqlx.Rows) ([]persistence.BanditSnapshot, error) {
	var out []persistence.BanditSnapshot

	for rows.Next() {
		s, err := r.scanSnapshotFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

func (r *banditRepo) scanSnapshot(row *sqlx.Row) (*persistence.BanditSnapshot, error) {
	var s persistence.BanditSnapshot
	var countsJSON, meansJSON, variancesJSON, bmaJSON, metadataJSON []byte

	err := row.Scan(&s.Timestamp, &s.Timeframe, &s.ChosenArm,
		&countsJSON, &meansJSON, &variancesJSON, &bmaJSON, &metadataJSON, &s.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalSnapshotFields(&s, countsJSON, meansJSON, variancesJSON, bmaJSON, metadataJSON); err != nil {
		return nil, err
	}

	return &s, nil
}

func (r *banditRepo) scanSnapshotFromRows(rows *sqlx.Rows) (*persistence.BanditSnapshot, error) {
	var s persistence.BanditSnapshot
	var countsJSON, meansJSON, variancesJSON, bmaJSON, metadataJSON []byte

	err := rows.Scan(&s.Timestamp, &s.Timeframe, &s.ChosenArm,
		&countsJSON, &meansJSON, &variancesJSON, &bmaJSON, &metadataJSON, &s.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalSnapshotFields(&s, countsJSON, meansJSON, variancesJSON, bmaJSON, metadataJSON); err != nil {
		return nil, err
	}

	return &s, nil
}

func unmarshalSnapshotFields(s *persistence.BanditSnapshot, counts, means, variances, bma, metadata []byte) error {
	if err := json.Unmarshal(counts, &s.Counts); err != nil {
		return fmt.Errorf("failed to unmarshal counts: %w", err)
	}
	if err := json.Unmarshal(means, &s.Means); err != nil {
		return fmt.Errorf("failed to unmarshal means: %w", err)
	}
	if err := json.Unmarshal(variances, &s.Variances); err != nil {
		return fmt.Errorf("failed to unmarshal variances: %w", err)
	}
	if err := json.Unmarshal(bma, &s.BMAWeights); err != nil {
		return fmt.Errorf("failed to unmarshal bma weights: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	} else {
		s.Metadata = make(map[string]interface{})
	}
	return nil
}
