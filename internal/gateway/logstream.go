package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whiteout-project/wosbot/internal/store"
)

const (
	// wsPingInterval is the interval between ping frames sent to the client.
	wsPingInterval = 30 * time.Second
	// wsPongTimeout is how long to wait for a pong response before closing.
	wsPongTimeout = 10 * time.Second
	// wsWriteTimeout is the deadline for writing a message to the client.
	wsWriteTimeout = 5 * time.Second
	// wsInitialLogCount is the number of historical log entries sent on connect.
	wsInitialLogCount = 50
)

type logEntryResponse struct {
	Ts        string `json:"ts"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// handleLogStream upgrades the connection to WebSocket and streams system-log
// entries in real-time. On connect it sends the last 50 entries as an initial
// payload, then pushes new entries as they are appended.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("log stream upgrade error", slog.Any("error", err))
		return
	}

	s.log.Info("log stream connected", slog.String("remote", r.RemoteAddr))

	// Subscribe before fetching history to avoid gaps.
	sub := s.store.SubscribeLogs()
	defer s.store.UnsubscribeLogs(sub)

	if err := s.sendInitialLogs(conn); err != nil {
		s.log.Warn("log stream initial send failed", slog.Any("error", err))
		_ = conn.Close()
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))

	// Read pump: drain client messages (none expected) and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.log.Warn("log stream read error", slog.Any("error", err))
				}
				return
			}
		}
	}()

	// Write pump: stream new entries and send pings.
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(toLogResponse(entry)); err != nil {
				s.log.Debug("log stream write error", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// sendInitialLogs sends the last N entries to the newly connected client.
func (s *Server) sendInitialLogs(conn *websocket.Conn) error {
	entries, err := s.store.GetRecentSystemLogs(wsInitialLogCount)
	if err != nil {
		return err
	}

	// GetRecentSystemLogs returns DESC order; reverse for chronological display.
	result := make([]logEntryResponse, len(entries))
	for i, e := range entries {
		result[len(entries)-1-i] = toLogResponse(e)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	msg, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func toLogResponse(e *store.LogEntry) logEntryResponse {
	return logEntryResponse{
		Ts:        e.Timestamp.Format("15:04:05"),
		Level:     e.Level,
		Component: e.Component,
		Message:   e.Message,
	}
}
