package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/corvidlabs/pennywise/internal/security"
)

// handleEventsWS upgrades to a WebSocket and streams routing events until
// the client disconnects. Auth uses a ?token= query param because browsers
// cannot set headers on WebSocket upgrades.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.jwtSecret != nil {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
			return
		}
		if _, err := security.ValidateToken(tokenStr, s.jwtSecret); err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is handled at the HTTP layer
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	events, cancel := s.router.Bus().Subscribe()
	defer cancel()

	ctx := r.Context()
	s.logger.Debug("event stream client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				s.logger.Debug("event stream client gone", "error", err)
				return
			}
		}
	}
}
