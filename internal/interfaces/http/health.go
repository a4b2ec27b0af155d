package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthResponse is the engine's liveness payload: it reports that the
// process is up and how long it has been running, not trading quality
// (that's /kpi).
type healthResponse struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	UptimeSec float64 `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   s.deps.Version,
		UptimeSec: time.Since(s.deps.StartedAt).Seconds(),
	}
	json.NewEncoder(w).Encode(resp)
}
