package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MuhammadArhumDev/Raidware/internal/metrics"
	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
	"github.com/MuhammadArhumDev/Raidware/internal/registry"
)

// handleDashboard serves an authenticated dashboard. Presence updates
// arrive through the hub; replies to the dashboard's own requests go
// through the same outbox so a single goroutine writes to the socket.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("dashboard upgrade failed")
		return
	}

	sub := registry.NewSubscriber(s.opts.DashboardBuffer)
	log := s.log.With().Str("dashboard", sub.ID).Logger()
	hub := s.registry.Hub()
	hub.Subscribe(sub)
	log.Info().Str("remote", r.RemoteAddr).Msg("dashboard connected")

	done := make(chan struct{})
	go s.dashboardWriter(ws, sub, done, log)

	defer func() {
		hub.Unsubscribe(sub)
		<-done
		_ = ws.Close()
		log.Info().Msg("dashboard disconnected")
	}()

	ws.SetReadLimit(maxFrameSize)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Parse(data)
		if err != nil {
			log.Debug().Err(err).Msg("dropped malformed dashboard frame")
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), eventTimeout)
		keep := s.dispatchDashboard(ctx, sub, msg, log)
		cancel()
		if !keep {
			return
		}
	}
}

func (s *Server) dispatchDashboard(ctx context.Context, sub *registry.Subscriber, msg protocol.Message, log zerolog.Logger) bool {
	switch msg.Type {
	case protocol.TypeInit:
		snapshot, err := s.registry.Snapshot(ctx)
		if err != nil {
			log.Error().Err(err).Msg("presence snapshot")
			snapshot = []protocol.PresenceRecord{}
		}
		s.reply(sub, protocol.TypeList, snapshot, log)

	case protocol.TypeSendMessage:
		var req protocol.SendMessage
		if err := msg.Decode(&req); err != nil || req.TargetIdentity == "" {
			s.reply(sub, protocol.TypeMessageStatus, protocol.MessageStatus{
				Target: req.TargetIdentity,
				Reason: "bad-request",
			}, log)
			return true
		}
		res := s.relay.SendToDevice(ctx, req.TargetIdentity, []byte(req.Message))
		log.Info().Str("target", req.TargetIdentity).Bool("success", res.Success).Str("reason", res.Reason).Msg("relay")
		s.reply(sub, protocol.TypeMessageStatus, protocol.MessageStatus{
			Target:  req.TargetIdentity,
			Success: res.Success,
			Reason:  res.Reason,
		}, log)

	case protocol.TypeDisconnect:
		return false

	default:
		log.Debug().Str("type", msg.Type).Msg("dropped unknown dashboard event")
	}
	return true
}

func (s *Server) reply(sub *registry.Subscriber, msgType string, payload any, log zerolog.Logger) {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("encode reply")
		return
	}
	if !sub.SafeSend(frame) {
		metrics.BroadcastsDropped.Inc()
		log.Warn().Str("type", msgType).Msg("dashboard outbox full, reply dropped")
	}
}

// dashboardWriter drains the subscriber outbox until it is closed.
func (s *Server) dashboardWriter(ws *websocket.Conn, sub *registry.Subscriber, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	for frame := range sub.Outbox() {
		_ = ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Debug().Err(err).Msg("dashboard write")
			_ = ws.Close()
			for range sub.Outbox() {
			}
			return
		}
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
