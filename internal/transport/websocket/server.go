package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader accepts any origin: this transport has no browser-facing CORS
// surface to restrict, subscribers authenticate via their subscriber id.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a WebSocket connection for the
// subscriber identified by the "subscriber_id" query parameter and runs its
// connection lifecycle until the client disconnects or the request context
// is canceled.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriber_id")
	if subscriberID == "" {
		http.Error(w, "subscriber_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.HandleConnection(r.Context(), subscriberID, conn)
}
