package noteapi

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	eventBuffer       = 64
	eventWriteTimeout = 5 * time.Second
)

// handleEvents upgrades the connection and streams registry events to the
// client as they occur. Each connection gets its own buffered subscription:
// a stalled client is disconnected when its buffer overflows instead of
// stalling delivery to anyone else. A session token passed as ?session=
// ties the connection to the client's note attachments, which are released
// when the connection goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event stream closed")
	if session != "" {
		defer s.registry.DetachSession(session)
	}

	events, cancelSub := s.registry.Subscribe(eventBuffer)
	defer cancelSub()

	// CloseRead keeps control frames flowing and cancels the context when
	// the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				// buffer overflowed: the registry dropped this subscriber
				conn.Close(websocket.StatusTryAgainLater, "event buffer overflow")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
