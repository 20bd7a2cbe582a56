package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MuhammadArhumDev/Raidware/internal/version"
)

// handleListDevices returns the presence snapshot as JSON.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	devices, err := s.registry.Snapshot(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list devices")
		http.Error(w, `{"error":"presence unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	json.NewEncoder(w).Encode(devices) //nolint:errcheck
}

// handleHealth reports liveness and cache reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	resp := map[string]any{
		"status":  "ok",
		"version": version.Version,
		"devices": s.conns.Len(),
	}
	if err := s.cache.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		resp["status"] = "degraded"
		resp["cache"] = err.Error()
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}
