package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"uploadai/internal/logging"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 16
)

// sessionWS streams status snapshots, current one first, until the client
// goes away or the server closes.
func (s *Server) sessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.requestLogger(r).Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	updates, stop := s.session.Machine().Subscribe(wsBuffer)
	defer stop()

	// Reads only detect the peer closing; clients send nothing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.runCtx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
