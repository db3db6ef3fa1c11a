package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/herald/internal/runtime/handlers"
	"github.com/drblury/herald/internal/runtime/jsoncodec"
	"github.com/drblury/herald/internal/runtime/metrics"
	"github.com/drblury/herald/transport"
)

// ConnectionInfo is one row of /api/connections.
type ConnectionInfo struct {
	Name         string                 `json:"name"`
	Driver       string                 `json:"driver"`
	Default      bool                   `json:"default"`
	Capabilities transport.Capabilities `json:"capabilities"`
}

// StatsResponse is the body of /api/stats.
type StatsResponse struct {
	Metrics   metrics.Snapshot `json:"metrics"`
	Resources ResourceUsage    `json:"resources"`
	Faking    bool             `json:"faking"`
}

func (h *Herald) registerWebUI() {
	if !h.Conf.WebUIEnabled {
		return
	}
	port := h.Conf.WebUIPort
	if port == 0 {
		port = 8081
	}

	h.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(h.handleGetHandlers))
	h.RegisterHTTPHandler(port, "/api/stats", http.HandlerFunc(h.handleGetStats))
	h.RegisterHTTPHandler(port, "/api/connections", http.HandlerFunc(h.handleGetConnections))
}

func (h *Herald) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	rows := h.Table()
	if rows == nil {
		rows = []handlers.Entry{}
	}
	h.writeJSON(w, r, rows)
}

func (h *Herald) handleGetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, StatsResponse{
		Metrics:   h.metrics.GetSnapshot(),
		Resources: h.usage.Snapshot(),
		Faking:    h.Faking(),
	})
}

func (h *Herald) handleGetConnections(w http.ResponseWriter, r *http.Request) {
	names := h.Conf.ConnectionNames()
	rows := make([]ConnectionInfo, 0, len(names))
	for _, name := range names {
		conn := h.Conf.Connections[name]
		rows = append(rows, ConnectionInfo{
			Name:         name,
			Driver:       conn.Driver,
			Default:      name == h.Conf.DefaultConnection,
			Capabilities: h.transports.GetCapabilities(conn.Driver),
		})
	}
	h.writeJSON(w, r, rows)
}

func (h *Herald) writeJSON(w http.ResponseWriter, r *http.Request, body any) {
	w.Header().Set("Content-Type", "application/json")

	if h.Conf != nil && len(h.Conf.WebUICORSAllowedOrigins) > 0 {
		if allowed := h.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := jsoncodec.Encode(w, body); err != nil {
		h.Logger.Error("Failed to encode web UI response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (h *Herald) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range h.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
