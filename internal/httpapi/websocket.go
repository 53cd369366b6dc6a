package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"watchlist-dashboard/internal/logging"
	"watchlist-dashboard/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = 45 * time.Second
	outBuffer  = 16
)

// handleWebSocket streams snapshots to the client: the current one on
// connect, then every snapshot the poller publishes. Clients may send
// {"type":"control","action":"refresh"} to trigger a manual cycle.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	instance := s.dash.Instance()
	var updates <-chan models.Snapshot
	if s.hub != nil {
		updates = s.hub.Subscribe(instance)
		defer s.hub.Unsubscribe(instance, updates)
	}

	out := make(chan any, outBuffer)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go s.writeLoop(logger, conn, updates, out, done, writerDone)

	send := func(v any) {
		select {
		case out <- v:
		default:
		}
	}
	send(SnapshotMsg{Type: MsgSnapshot, Snapshot: s.dash.Snapshot()})

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		var ctrl ControlMsg
		if err := json.Unmarshal(data, &ctrl); err != nil || ctrl.Type != MsgControl {
			continue
		}

		switch strings.ToLower(ctrl.Action) {
		case "refresh":
			if !s.allowRefresh() {
				send(StatusMsg{Type: MsgStatus, Level: "warn", Text: "Refresh rate limit exceeded"})
				continue
			}
			send(StatusMsg{Type: MsgStatus, Level: "info", Text: "Refreshing"})
			ctx := r.Context()
			go func() {
				_ = s.dash.Refresh(ctx)
				if s.hub == nil {
					send(SnapshotMsg{Type: MsgSnapshot, Snapshot: s.dash.Snapshot()})
				}
			}()
		case "snapshot":
			send(SnapshotMsg{Type: MsgSnapshot, Snapshot: s.dash.Snapshot()})
		default:
			send(StatusMsg{Type: MsgStatus, Level: "warn", Text: "Unknown action " + ctrl.Action})
		}
	}

	close(done)
	<-writerDone
}

// writeLoop owns all writes to conn.
func (s *Server) writeLoop(logger zerolog.Logger, conn *websocket.Conn, updates <-chan models.Snapshot, out <-chan any, done <-chan struct{}, writerDone chan<- struct{}) {
	defer close(writerDone)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			logger.Debug().Err(err).Msg("Websocket write failed")
			return false
		}
		return true
	}

	for {
		select {
		case v := <-out:
			if !write(v) {
				conn.Close()
				return
			}
		case snap, ok := <-updates:
			if !ok {
				// Hub stopped.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				conn.Close()
				return
			}
			if !write(SnapshotMsg{Type: MsgSnapshot, Snapshot: snap}) {
				conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}
