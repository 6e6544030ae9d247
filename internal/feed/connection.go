package feed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lox/tablesight/internal/fusion"
	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/internal/publisher"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the peer
	pongWait = 60 * time.Second

	// Send pings to subscribers with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

// Reply is sent to an observation producer when a message is refused
type Reply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// streamSnapshots writes the subscription to conn until the subscription
// ends or the peer goes away. Versions never go backwards on one stream.
func (s *Server) streamSnapshots(conn *websocket.Conn, sub *publisher.ChannelMonitor) {
	defer s.hub.Unsubscribe(sub)
	defer func() { _ = conn.Close() }()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		s.discardReads(conn)
	}()

	ticker := s.clock.NewTicker(pingPeriod, "feed", "ping")
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case snap, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if snap.Version <= last {
				continue
			}
			last = snap.Version
			if err := conn.WriteJSON(snap); err != nil {
				s.logger.Debug("Snapshot write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-gone:
			return
		}
	}
}

// discardReads keeps the read side moving so control frames are handled
// and a closed peer is noticed.
func (s *Server) discardReads(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Subscriber read error", "error", err)
			}
			return
		}
	}
}

// readObservations submits every observation message from a producer. Only
// refusals are answered. A producer silent for pongWait is disconnected.
func (s *Server) readObservations(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Producer connection error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var obs observation.Observation
		if err := json.Unmarshal(data, &obs); err != nil {
			s.reply(conn, Reply{Type: "error", Error: err.Error()})
			continue
		}
		if err := s.submit(obs); err != nil {
			s.reply(conn, Reply{Type: "error", Error: err.Error(), Field: obs.Field.String()})
			if errors.Is(err, fusion.ErrClosed) {
				return
			}
		}
	}
}

func (s *Server) reply(conn *websocket.Conn, r Reply) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(r); err != nil {
		s.logger.Debug("Reply write failed", "error", err)
	}
}
