package realtime

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to WebSocket sessions on the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler constructs the WebSocket endpoint handler.
func NewHandler(hub *Hub) (*Handler, error) {
	if hub == nil {
		return nil, errors.New("realtime handler: nil hub")
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}, nil
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Printf("realtime: upgrade failed: %v", err)
		return
	}
	h.hub.serve(c)
}
