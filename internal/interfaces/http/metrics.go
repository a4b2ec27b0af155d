package http

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/mtfengine/internal/emitter"
)

var (
	sharpeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtfengine_sharpe_ratio",
		Help: "Annualized Sharpe ratio over the rolling health window.",
	})
	drawdownGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtfengine_max_drawdown",
		Help: "Max drawdown (fractional) over the rolling health window.",
	})
	inBandShareGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtfengine_in_band_share",
		Help: "Fraction of bars whose calibrated prediction fell within the neutral band.",
	})
	hitRateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtfengine_hit_rate",
		Help: "Directional hit rate over directed bars in the rolling window.",
	})
	turnoverGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtfengine_turnover",
		Help: "Sum of |position delta| over the rolling health window.",
	})
	emitterDroppedCounter = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mtfengine_emitter_dropped_records",
		Help: "Records soft-dropped per stream since process start.",
	}, []string{"stream"})
	emitterSampledOutCounter = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mtfengine_emitter_sampled_out_records",
		Help: "Records sampled out (never written) per stream since process start.",
	}, []string{"stream"})
)

func emitterStreams() []string {
	return emitter.Streams
}

// metricsHandler returns the standard Prometheus text-exposition
// handler. It does not refresh the gauges itself; StartMetricsRefresh
// does that on a ticker.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// refreshMetrics pushes the latest health/emitter readings into the
// Prometheus gauges. StartMetricsRefresh calls this on a ticker rather
// than on every /metrics scrape so a slow scraper can't make it
// recompute the rolling window concurrently with the driver goroutine.
func refreshMetrics(deps Deps) {
	if deps.Health != nil {
		snap := deps.Health.Snapshot()
		sharpeGauge.Set(snap.Sharpe)
		drawdownGauge.Set(snap.MaxDrawdown)
		inBandShareGauge.Set(snap.InBandShare)
		hitRateGauge.Set(snap.HitRate)
		turnoverGauge.Set(snap.Turnover)
	}
	if deps.Emit != nil {
		for _, stream := range emitterStreams() {
			emitterDroppedCounter.WithLabelValues(stream).Set(float64(deps.Emit.DroppedCount(stream)))
			emitterSampledOutCounter.WithLabelValues(stream).Set(float64(deps.Emit.SampledOutCount(stream)))
		}
	}
}

// StartMetricsRefresh launches a background goroutine that calls
// refreshMetrics on the given interval until ctx is cancelled.
func (s *Server) StartMetricsRefresh(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshMetrics(s.deps)
			}
		}
	}()
}
