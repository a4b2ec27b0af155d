package http

import (
	"encoding/json"
	"net/http"
)

// kpiResponse is the rolling health.Snapshot plus per-stream emitter
// drop counts, giving an operator one place to see both trading
// quality and whether the log pipeline is keeping up.
type kpiResponse struct {
	Sharpe       float64          `json:"sharpe"`
	MaxDrawdown  float64          `json:"max_drawdown"`
	InBandShare  float64          `json:"in_band_share"`
	HitRate      float64          `json:"hit_rate"`
	Turnover     float64          `json:"turnover"`
	BarsTracked  int              `json:"bars_tracked"`
	DroppedByStream map[string]int64 `json:"dropped_by_stream,omitempty"`
}

func (s *Server) handleKPI(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "health tracker not wired"})
		return
	}
	snap := s.deps.Health.Snapshot()
	resp := kpiResponse{
		Sharpe:      snap.Sharpe,
		MaxDrawdown: snap.MaxDrawdown,
		InBandShare: snap.InBandShare,
		HitRate:     snap.HitRate,
		Turnover:    snap.Turnover,
		BarsTracked: snap.BarsTracked,
	}
	if s.deps.Emit != nil {
		resp.DroppedByStream = make(map[string]int64)
		for _, stream := range emitterStreams() {
			if n := s.deps.Emit.DroppedCount(stream); n > 0 {
				resp.DroppedByStream[stream] = n
			}
		}
	}
	json.NewEncoder(w).Encode(resp)
}
