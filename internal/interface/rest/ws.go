package rest

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/fairdraw/raffled/internal/core/application"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func newHub() *hub {
	return &hub{
		conns: make(map[*websocket.Conn]bool),
	}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[conn] = true
	log.Debugf("ws: client connected (total: %d)", len(h.conns))
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		conn.Close()
		log.Debug("ws: client disconnected")
	}
}

func (h *hub) broadcast(notification application.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(notification)
	if err != nil {
		log.WithError(err).Warn("ws: failed to marshal notification")
		return
	}

	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.WithError(err).Debug("ws: write failed")
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}

func (s *service) streamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("ws: upgrade failed")
		return
	}

	s.hub.add(conn)
	defer s.hub.remove(conn)

	// Drain client messages until disconnect, the stream is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
