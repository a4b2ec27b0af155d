package http

import (
	"encoding/json"
	"net/http"
)

// banditResponse mirrors domain.BanditState's per-arm running
// statistics under the same counts/means/variances keys as the on-disk
// checkpoint; the checkpoint also carries updated_at.
type banditResponse struct {
	Counts    map[string]int64   `json:"counts"`
	Means     map[string]float64 `json:"means"`
	Variances map[string]float64 `json:"variances"`
}

func (s *Server) handleBandit(w http.ResponseWriter, r *http.Request) {
	if s.deps.BanditState == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "bandit state not wired"})
		return
	}
	sel := s.deps.BanditState()
	if sel == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "bandit selector unavailable"})
		return
	}
	state := sel.State()
	json.NewEncoder(w).Encode(banditResponse{
		Counts:    state.Counts,
		Means:     state.Means,
		Variances: state.Variances,
	})
}
