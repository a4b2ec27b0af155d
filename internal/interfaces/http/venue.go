package http

import (
	"encoding/json"
	"net/http"

	"github.com/sawpanic/mtfengine/internal/infrastructure/httpclient"
)

// httpStatser is implemented by venues whose REST transport collects
// concurrency/latency stats (currently only BinanceVenue). Venues that
// don't implement it (e.g. OfflineVenue) report an empty response.
type httpStatser interface {
	HTTPStats() httpclient.ClientStats
}

// venueResponse reports the live venue's REST transport health: request
// counts and latency percentiles from its httpclient.ClientPool, for
// operators distinguishing a quiet market from a wedged venue.
type venueResponse struct {
	Name  string                  `json:"name"`
	Stats *httpclient.ClientStats `json:"http_stats,omitempty"`
}

func (s *Server) handleVenue(w http.ResponseWriter, r *http.Request) {
	resp := venueResponse{}
	if s.deps.Venue != nil {
		resp.Name = s.deps.Venue.Name()
		if statser, ok := s.deps.Venue.(httpStatser); ok {
			stats := statser.HTTPStats()
			resp.Stats = &stats
		}
	}
	json.NewEncoder(w).Encode(resp)
}
