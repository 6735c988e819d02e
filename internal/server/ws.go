package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteTimeout bounds each WebSocket write.
	wsWriteTimeout = 10 * time.Second

	// wsPingInterval is how often a ping frame is sent to keep the
	// connection alive through idle stretches.
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard may be opened from any host on the lab network
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS streams readings over a WebSocket connection.
//
// Each message is one JSON-encoded reading. The server only writes; incoming
// frames are drained to detect the close handshake. Slow clients miss
// readings rather than stall the session, since the hub drops on a full
// subscription buffer.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.stream.Subscribe()
	defer s.stream.Unsubscribe(ch)

	// read pump: discard client frames, surface the close handshake
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case reading, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(reading); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return

		case <-r.Context().Done():
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stopping"))
			return
		}
	}
}
