package persistence

import (
	"context"
	"time"
)

// TimeRange represents a time window for history queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Execution is a single simulated (or, in live mode, exchange-confirmed)
// fill from the paper executor, archived for audit beyond the JSONL
// execution stream.
type Execution struct {
	ID         int64                  `json:"id" db:"id"`
	Timestamp  time.Time              `json:"ts" db:"ts"`
	Symbol     string                 `json:"symbol" db:"symbol"`
	Venue      string                 `json:"venue" db:"venue"`
	Side       string                 `json:"side" db:"side"`
	Price      float64                `json:"price" db:"price"`
	Qty        float64                `json:"qty" db:"qty"`
	OrderID    *string                `json:"order_id,omitempty" db:"order_id"`
	Attributes map[string]interface{} `json:"attributes" db:"attributes"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// BanditSnapshot is a periodic checkpoint of the arm selector and BMA
// blender's running statistics, for post-hoc analysis independent of the
// JSON checkpoint file used for restart recovery.
type BanditSnapshot struct {
	Timestamp  time.Time              `json:"ts" db:"ts"`
	Timeframe  string                 `json:"timeframe" db:"timeframe"`
	ChosenArm  string                 `json:"chosen_arm" db:"chosen_arm"`
	Counts     map[string]int64       `json:"counts" db:"counts"`
	Means      map[string]float64     `json:"means" db:"means"`
	Variances  map[string]float64     `json:"variances" db:"variances"`
	BMAWeights map[string]float64     `json:"bma_weights" db:"bma_weights"`
	Metadata   map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// HealthSnapshot is a periodic checkpoint of the rolling KPI tracker
// (Sharpe, drawdown, in-band share, hit rate, turnover).
type HealthSnapshot struct {
	ID              int64                  `json:"id" db:"id"`
	Timestamp       time.Time              `json:"ts" db:"ts"`
	Symbol          string                 `json:"symbol" db:"symbol"`
	Timeframe       string                 `json:"timeframe" db:"timeframe"`
	RollingSharpe   *float64               `json:"rolling_sharpe,omitempty" db:"rolling_sharpe"`
	MaxDrawdownPct  *float64               `json:"max_drawdown_pct,omitempty" db:"max_drawdown_pct"`
	InBandSharePct  *float64               `json:"in_band_share_pct,omitempty" db:"in_band_share_pct"`
	HitRatePct      *float64               `json:"hit_rate_pct,omitempty" db:"hit_rate_pct"`
	TurnoverPct     *float64               `json:"turnover_pct,omitempty" db:"turnover_pct"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	ProcessingLatMS *int                   `json:"processing_latency_ms,omitempty" db:"processing_latency_ms"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
}

// ExecutionsRepo persists the execution ledger.
type ExecutionsRepo interface {
	Insert(ctx context.Context, e Execution) error
	InsertBatch(ctx context.Context, es []Execution) error
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]Execution, error)
	GetByOrderID(ctx context.Context, orderID string) (*Execution, error)
	GetLatest(ctx context.Context, limit int) ([]Execution, error)
	Count(ctx context.Context, tr TimeRange) (int64, error)
	CountByVenue(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// BanditRepo persists periodic bandit/BMA snapshots.
type BanditRepo interface {
	Upsert(ctx context.Context, snapshot BanditSnapshot) error
	Latest(ctx context.Context, timeframe string) (*BanditSnapshot, error)
	ListRange(ctx context.Context, timeframe string, tr TimeRange) ([]BanditSnapshot, error)
	ArmHistory(ctx context.Context, timeframe, arm string, tr TimeRange) ([]BanditSnapshot, error)
}

// HealthRepo persists periodic health/KPI snapshots.
type HealthRepo interface {
	Upsert(ctx context.Context, snapshot HealthSnapshot) error
	UpsertBatch(ctx context.Context, snapshots []HealthSnapshot) error
	Window(ctx context.Context, tr TimeRange) ([]HealthSnapshot, error)
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]HealthSnapshot, error)
	Latest(ctx context.Context, symbol, timeframe string) (*HealthSnapshot, error)
}

// Repository aggregates all persistence interfaces the engine uses.
type Repository struct {
	Executions ExecutionsRepo
	Bandit     BanditRepo
	Health     HealthRepo
}

// HealthCheck represents repository connectivity status.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}
