package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	logx "maintd/pkg/logx"
)

const (
	eventBuffer   = 64
	eventWriteMax = 5 * time.Second
)

// handleEvents upgrades to a websocket and streams bus events as JSON until
// the client goes away. Events a slow client cannot absorb are dropped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable", "")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.log.Debug("ws accept failed", logx.Err(err))
		return
	}
	defer conn.CloseNow()

	events, unsub := s.bus.Subscribe(eventBuffer)
	defer unsub()

	// CloseRead drains client frames and cancels ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())
	s.log.Debug("ws client connected")
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("ws client disconnected")
			return
		case e, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "bus closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteMax)
			err := wsjson.Write(wctx, conn, e)
			cancel()
			if err != nil {
				s.log.Debug("ws write failed", logx.Err(err))
				return
			}
		}
	}
}
