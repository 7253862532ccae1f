package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmespath/go-jmespath"

	"github.com/turnbridge/turnbridge/logger"
	"github.com/turnbridge/turnbridge/registry"
)

// sessionView is the JSON shape of one registry.SessionMetadata entry
// served at GET /admin/sessions.
type sessionView struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	SideAConnected bool      `json:"side_a_connected"`
	SideBConnected bool      `json:"side_b_connected"`
}

// AdminSessionsHandler serves a read-only, redacted snapshot of the
// Registry. It never mutates Session state (SPEC_FULL.md §2, item 9).
type AdminSessionsHandler struct {
	registry *registry.Registry
}

// NewAdminSessionsHandler creates a Handler for GET /admin/sessions.
func NewAdminSessionsHandler(reg *registry.Registry) *AdminSessionsHandler {
	return &AdminSessionsHandler{registry: reg}
}

// ServeHTTP writes the current session list as JSON. An optional `?query=`
// parameter is evaluated as a JMESPath expression over the list, letting
// operational tooling filter without round-tripping the full snapshot.
func (h *AdminSessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()
	views := make([]sessionView, 0, len(list))
	for _, s := range list {
		views = append(views, sessionView{
			ID:             s.ID,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			SideAConnected: s.SideAConnected,
			SideBConnected: s.SideBConnected,
		})
	}

	w.Header().Set("Content-Type", "application/json")

	query := r.URL.Query().Get("query")
	if query == "" {
		_ = json.NewEncoder(w).Encode(map[string]any{"sessions": views})
		return
	}

	// Round-trip through interface{} so jmespath can walk plain maps —
	// it operates on unmarshaled JSON data, not typed Go structs.
	raw, err := toJMESPathData(views)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	result, err := jmespath.Search(query, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query: "+err.Error(), ErrTypeInvalidRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func toJMESPathData(views []sessionView) (any, error) {
	data, err := json.Marshal(views)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var adminUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AdminSessionsStreamHandler pushes {"sessions": N} over a WebSocket
// connection whenever the Registry's session count changes. It is
// read-only: it never accepts messages from the client (SPEC_FULL.md §4.6).
type AdminSessionsStreamHandler struct {
	registry *registry.Registry
	interval time.Duration
}

// NewAdminSessionsStreamHandler creates a Handler for
// GET /admin/sessions/stream. interval controls how often the count is
// polled for a change; a sensible default is a few hundred milliseconds.
func NewAdminSessionsStreamHandler(reg *registry.Registry, interval time.Duration) *AdminSessionsStreamHandler {
	return &AdminSessionsStreamHandler{registry: reg, interval: interval}
}

func (h *AdminSessionsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := adminUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("admin sessions stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain and discard anything the client sends — this endpoint only
	// ever pushes. Reading is also how gorilla/websocket detects the peer
	// closing the connection.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			count := h.registry.Count()
			if count == last {
				continue
			}
			last = count
			if err := conn.WriteJSON(map[string]int{"sessions": count}); err != nil {
				return
			}
		}
	}
}

// HealthHandler reports liveness per SPEC_FULL.md §6.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
