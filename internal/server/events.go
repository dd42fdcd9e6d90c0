package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/storage"
)

// Event is one system log line pushed to an events subscriber.
type Event struct {
	Type    string             `json:"type"`
	Payload *storage.SystemLog `json:"payload,omitempty"`
	Error   string             `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// handleEvents tails the system log over a websocket. The client picks the
// starting point with ?after=<id> and may narrow with ?type=. The server
// polls the store; the client only has to read.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireExecuted(w, r); !ok {
		return
	}
	after, ok := intParam(w, r, "after")
	if !ok {
		return
	}
	logType := r.URL.Query().Get("type")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Read pump: the only inbound traffic is control frames and the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", zap.Error(err))
				}
				return
			}
		}
	}()

	last := int64(after)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		logs, err := s.store.ListSystemLogs(ctx, storage.LogFilter{LogType: logType, AfterID: last, Limit: 100})
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("events poll failed", zap.Error(err))
			s.send(conn, Event{Type: "error", Error: "poll failed"})
		}
		for i := range logs {
			if !s.send(conn, Event{Type: "log", Payload: &logs[i]}) {
				return
			}
			last = logs[i].ID
		}

		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) send(conn *websocket.Conn, ev Event) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}
