package driver

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/mtfengine/internal/domain"
	"github.com/sawpanic/mtfengine/internal/domain/bandit"
	"github.com/sawpanic/mtfengine/internal/domain/combine"
	"github.com/sawpanic/mtfengine/internal/domain/ensemble"
	"github.com/sawpanic/mtfengine/internal/domain/guard"
	"github.com/sawpanic/mtfengine/internal/domain/health"
	"github.com/sawpanic/mtfengine/internal/domain/risk"
	"github.com/sawpanic/mtfengine/internal/domain/signal"
	"github.com/sawpanic/mtfengine/internal/emitter"
	"github.com/sawpanic/mtfengine/internal/venue"
)

// directionalPredictor always reports a fixed up-leaning distribution so
// signal.Generate yields a non-neutral direction regardless of features,
// which keeps these tests focused on pipeline wiring rather than model
// warmup behavior.
type directionalPredictor struct{}

func (directionalPredictor) Infer(x []float64) domain.Prediction {
	p, _ := domain.NewPrediction(0.1, 0.2, 0.7, 0, 1.0)
	return p
}

func sampleCandles(n int) []venue.Candle {
	out := make([]venue.Candle, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 0.5
		out = append(out, venue.Candle{
			TsMs: int64(i+1) * 300000, Open: price - 0.5, High: price + 0.2,
			Low: price - 0.7, Close: price, Volume: 10, Closed: true,
		})
	}
	return out
}

func newTestDriver(t *testing.T, n int) (*Driver, *emitter.Emitter) {
	t.Helper()
	dir := t.TempDir()
	emitCfg := emitter.DefaultConfig(dir)
	emitCfg.Asset = "BTCUSDT"
	emit := emitter.New(emitCfg)

	v := venue.NewOfflineVenue("offline", sampleCandles(n),
		[]venue.BookTicker{{TsMs: 1, Bid: 99.9, Ask: 100.1}},
		nil, venue.Filters{StepSize: 0.001, TickSize: 0.01, MinQty: 0.001, MinNotional: 5},
		venue.FundingUpdate{TsMs: 1, FundingRate: 0.0001})

	d := New(Deps{
		Venue:       v,
		Symbol:      "BTCUSDT",
		BaseBar:     "5m",
		Timeframes:  []Timeframe{{Name: "5m", BaseMultiple: 1}, {Name: "15m", BaseMultiple: 3}},
		Predictor:   directionalPredictor{},
		Schema:      []string{"rv", "vol", "corr", "funding", "cohort_pros", "cohort_amateurs", "cohort_mood"},
		CombineCfg:  combine.DefaultConfig(),
		BanditCfg:   bandit.DefaultConfig(),
		EnsembleCfg: ensemble.DefaultConfig(),
		Thresholds:  signal.DefaultThresholds(),
		GuardChain:  guard.NewChain(guard.Config{}),
		Executor:    risk.NewExecutor(risk.DefaultConfig(), risk.ExchangeFilters{StepSize: 0.001, TickSize: 0.01, MinQty: 0.001, MinNotional: 5}),
		Health:      health.NewTracker(200, 5),
		Emit:        emit,
		AdvNotionalUSD: 1_000_000,
	})
	return d, emit
}

func TestRunProcessesOfflineFixtureToCompletion(t *testing.T) {
	d, emit := newTestDriver(t, 80)
	defer emit.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.Run(ctx); err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		t.Fatalf("unexpected error from Run: %v", err)
	}

	if d.barsProcessed == 0 {
		t.Fatal("expected at least one bar processed from the offline fixture")
	}
	if len(d.latest) == 0 {
		t.Fatal("expected at least one timeframe signal to be populated")
	}
}

func TestOverlayTimeframeRollsUpAfterBaseMultipleBars(t *testing.T) {
	d, emit := newTestDriver(t, 10)
	defer emit.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.Run(ctx)

	if _, ok := d.latest["15m"]; !ok {
		t.Fatal("expected the 15m overlay (3x5m) to have produced a signal by bar 10")
	}
}

func TestProcessBarIsSafeForConcurrentCandlesAndBookTickers(t *testing.T) {
	d, emit := newTestDriver(t, 60)
	defer emit.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		t.Fatalf("unexpected error: %v", err)
	}
}
