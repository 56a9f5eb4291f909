package gateway

import (
	"net/http"

	"retina/internal/version"
)

// handleHealth handles GET /health
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snapshot := g.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         snapshot.Status,
		"version":        version.Info(),
		"uptime_seconds": snapshot.UptimeSeconds,
		"embedder":       g.registry.Embedder().Name(),
	})
}

// handleMetrics handles GET /metrics
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": g.metrics.Snapshot(),
		"cache":   g.registry.CacheStats(),
	})
}
