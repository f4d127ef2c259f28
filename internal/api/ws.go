package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	// wsUpdateBuffer bounds queued change notifications per connection;
	// a slow consumer drops intermediate updates and still receives the
	// latest list on the next frame.
	wsUpdateBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWS upgrades the connection and pushes a tokensResponse frame each
// time the store reports a change for a subscribed network. The networks
// query parameter limits delivery to a comma-separated set of network ids;
// absent, every network is delivered.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filter, err := parseNetworkFilter(r.URL.Query().Get("networks"))
	if err != nil {
		http.Error(w, "invalid networks filter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates := make(chan uint64, wsUpdateBuffer)
	unsubscribe := s.source.Subscribe(func(networkID uint64) {
		if filter != nil && !filter[networkID] {
			return
		}
		select {
		case updates <- networkID:
		default:
		}
	})
	defer unsubscribe()

	// The read loop exists to observe the peer closing the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case networkID := <-updates:
			frame := tokensResponse{
				NetworkID: networkID,
				Tokens:    toJSONList(s.source.Tokens(r.Context(), networkID)),
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				s.logger.Debug("websocket write failed, closing", "err", err)
				return
			}
		}
	}
}
