package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeRange_Validation(t *testing.T) {
	tests := []struct {
		name  string
		tr    TimeRange
		valid bool
	}{
		{
			name: "valid_range",
			tr: TimeRange{
				From: time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC),
				To:   time.Date(2025, 9, 7, 11, 0, 0, 0, time.UTC),
			},
			valid: true,
		},
		{
			name: "same_time",
			tr: TimeRange{
				From: time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC),
				To:   time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC),
			},
			valid: true,
		},
		{
			name:  "zero_times",
			tr:    TimeRange{},
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.tr)
			if tt.valid {
				assert.True(t, tt.tr.To.After(tt.tr.From) || tt.tr.To.Equal(tt.tr.From))
			}
		})
	}
}

func TestExecution_Validation(t *testing.T) {
	validExecution := Execution{
		ID:        1,
		Timestamp: time.Now(),
		Symbol:    "BTC-USD",
		Venue:     "kraken",
		Side:      "buy",
		Price:     50000.0,
		Qty:       0.1,
		OrderID:   stringPtr("order123"),
		Attributes: map[string]interface{}{
			"taker": true,
		},
		CreatedAt: time.Now(),
	}

	t.Run("valid_execution", func(t *testing.T) {
		assert.Equal(t, "BTC-USD", validExecution.Symbol)
		assert.Equal(t, "kraken", validExecution.Venue)
		assert.Greater(t, validExecution.Price, 0.0)
		assert.Greater(t, validExecution.Qty, 0.0)
		require.NotNil(t, validExecution.OrderID)
		assert.Equal(t, "order123", *validExecution.OrderID)
	})
}

func TestBanditSnapshot_Validation(t *testing.T) {
	validSnapshot := BanditSnapshot{
		Timestamp: time.Now(),
		Timeframe: "1h",
		ChosenArm: "model_a",
		Counts:    map[string]int64{"model_a": 12, "model_b": 8},
		Means:     map[string]float64{"model_a": 0.4, "model_b": -0.1},
		Variances: map[string]float64{"model_a": 0.02, "model_b": 0.05},
		BMAWeights: map[string]float64{
			"model_a": 0.65,
			"model_b": 0.35,
		},
		Metadata:  map[string]interface{}{"test": true},
		CreatedAt: time.Now(),
	}

	t.Run("valid_snapshot", func(t *testing.T) {
		assert.Equal(t, "model_a", validSnapshot.ChosenArm)
		assert.Equal(t, int64(12), validSnapshot.Counts["model_a"])
	})

	t.Run("bma_weights_sum_to_one", func(t *testing.T) {
		total := 0.0
		for _, w := range validSnapshot.BMAWeights {
			total += w
		}
		assert.InDelta(t, 1.0, total, 1e-9)
	})
}

func TestHealthSnapshot_Validation(t *testing.T) {
	sharpe := 1.8
	drawdown := 4.2
	hitRate := 58.0

	validSnapshot := HealthSnapshot{
		ID:             1,
		Timestamp:      time.Now(),
		Symbol:         "ETH-USD",
		Timeframe:      "1h",
		RollingSharpe:  &sharpe,
		MaxDrawdownPct: &drawdown,
		HitRatePct:     &hitRate,
		Metadata: map[string]interface{}{
			"lookback_bars": 500,
		},
		CreatedAt: time.Now(),
	}

	t.Run("valid_snapshot", func(t *testing.T) {
		assert.Equal(t, "ETH-USD", validSnapshot.Symbol)
		require.NotNil(t, validSnapshot.RollingSharpe)
		assert.Greater(t, *validSnapshot.RollingSharpe, 0.0)
		require.NotNil(t, validSnapshot.HitRatePct)
		assert.GreaterOrEqual(t, *validSnapshot.HitRatePct, 0.0)
		assert.LessOrEqual(t, *validSnapshot.HitRatePct, 100.0)
	})
}

func TestHealthCheck_Structure(t *testing.T) {
	healthCheck := HealthCheck{
		Healthy: true,
		Errors:  []string{},
		ConnectionPool: map[string]int{
			"active": 5,
			"idle":   10,
			"max":    20,
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: 45,
	}

	t.Run("valid_health_check", func(t *testing.T) {
		assert.True(t, healthCheck.Healthy)
		assert.Empty(t, healthCheck.Errors)
		assert.Contains(t, healthCheck.ConnectionPool, "active")
		assert.Greater(t, healthCheck.ResponseTimeMS, int64(0))
	})
}

func stringPtr(s string) *string {
	return &s
}
