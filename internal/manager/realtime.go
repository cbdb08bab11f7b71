package manager

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// RealtimeHandler upgrades the client-facing §6 WebSocket
// (`/realtime?customer_id=...`) and hands the connection to the
// manager's accept operation, grounded on the teacher's
// wsControlPlane.ServeHTTP: upgrade, derive a cancellable context from
// the request, then block for the session's lifetime.
type RealtimeHandler struct {
	manager     *Manager
	checkOrigin func(origin string) bool
	upgrader    websocket.Upgrader
}

// NewRealtimeHandler builds the /realtime handler. checkOrigin may be
// nil, in which case every origin is allowed.
func NewRealtimeHandler(m *Manager, checkOrigin func(origin string) bool) *RealtimeHandler {
	h := &RealtimeHandler{manager: m, checkOrigin: checkOrigin}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if h.checkOrigin == nil {
				return true
			}
			return h.checkOrigin(r.Header.Get("Origin"))
		},
	}
	return h
}

func (h *RealtimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("customer_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	h.manager.Accept(ctx, conn, subjectID)
}
