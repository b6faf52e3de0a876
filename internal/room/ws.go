// ABOUTME: WebSocket transport for gathering rooms
// ABOUTME: join_room/send_message in, receive_message out; one room per connection

package room

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/gather-gateway/internal/auth"
	"github.com/2389/gather-gateway/internal/store"
)

// Frame types exchanged over the room socket.
const (
	frameJoinRoom       = "join_room"
	frameSendMessage    = "send_message"
	frameReceiveMessage = "receive_message"
	frameError          = "error"
)

// inboundFrame is what clients send. GatheringID is only read on join_room.
type inboundFrame struct {
	Type        string `json:"type"`
	GatheringID string `json:"gathering_id,omitempty"`
	Body        string `json:"body,omitempty"`
}

// outboundFrame is what the server pushes.
type outboundFrame struct {
	Type    string       `json:"type"`
	Message *wireMessage `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type wireMessage struct {
	ID          string    `json:"id"`
	GatheringID string    `json:"gathering_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

func toWire(m *store.RoomMessage) *wireMessage {
	return &wireMessage{
		ID:          m.ID,
		GatheringID: m.GatheringID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Body:        m.Body,
		SentAt:      m.SentAt,
	}
}

// WSHandler upgrades HTTP requests to room sockets. A connection joins one
// room at a time; a second join_room switches rooms. Closing the socket is
// the only way to leave. The handler never checks the admission ledger:
// any known participant who knows a gathering id can join its room.
type WSHandler struct {
	rooms  *Service
	store  store.Store
	logger *slog.Logger
}

func NewWSHandler(rooms *Service, st store.Store, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		rooms:  rooms,
		store:  st,
		logger: logger.With("component", "room-ws"),
	}
}

// resolveParticipantID prefers the authenticated identity over the
// participant_id query parameter. With auth disabled the client value is
// trusted, matching the JSON handlers.
func resolveParticipantID(r *http.Request) string {
	if identity, ok := auth.FromContext(r.Context()); ok {
		return identity.ParticipantID
	}
	return r.URL.Query().Get("participant_id")
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	participantID := resolveParticipantID(r)
	if participantID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	p, err := h.store.GetParticipant(r.Context(), participantID)
	if err != nil {
		http.Error(w, "unknown participant", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients call from the app origin; the gateway does not
		// enforce an allowlist.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.serve(ctx, conn, p)
	conn.Close(websocket.StatusNormalClosure, "")
}

type session struct {
	gatheringID string
	subID       string
	cancel      context.CancelFunc
}

func (h *WSHandler) serve(ctx context.Context, conn *websocket.Conn, p *store.Participant) {
	logger := h.logger.With("participant_id", p.ID)

	var cur *session
	leave := func() {
		if cur == nil {
			return
		}
		cur.cancel()
		h.rooms.Unsubscribe(cur.gatheringID, cur.subID)
		cur = nil
	}
	defer leave()

	for {
		var frame inboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debug("room socket closed", "error", err)
			}
			return
		}

		switch frame.Type {
		case frameJoinRoom:
			if frame.GatheringID == "" {
				h.writeError(ctx, conn, "join_room requires gathering_id")
				continue
			}
			// Switching rooms drops the previous subscription first.
			leave()

			subCtx, cancel := context.WithCancel(ctx)
			ch, subID := h.rooms.Subscribe(subCtx, frame.GatheringID)
			cur = &session{gatheringID: frame.GatheringID, subID: subID, cancel: cancel}
			go h.pump(subCtx, conn, ch, logger)
			logger.Debug("joined room", "gathering_id", frame.GatheringID)

		case frameSendMessage:
			if cur == nil {
				h.writeError(ctx, conn, "join a room before sending")
				continue
			}
			if frame.Body == "" {
				continue
			}
			// The sender's own subscription is excluded from fan-out; the
			// persisted message is echoed back on this connection instead.
			msg, err := h.rooms.Send(ctx, cur.gatheringID, p.ID, p.DisplayName, frame.Body, cur.subID)
			if err != nil {
				logger.Error("failed to send room message", "error", err)
				h.writeError(ctx, conn, "message not delivered")
				continue
			}
			h.writeMessage(ctx, conn, msg, logger)

		default:
			h.writeError(ctx, conn, "unknown frame type: "+frame.Type)
		}
	}
}

// pump forwards fan-out messages to the socket until the subscription ends.
func (h *WSHandler) pump(ctx context.Context, conn *websocket.Conn, ch <-chan *store.RoomMessage, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.writeMessage(ctx, conn, msg, logger)
		}
	}
}

func (h *WSHandler) writeMessage(ctx context.Context, conn *websocket.Conn, msg *store.RoomMessage, logger *slog.Logger) {
	if err := wsjson.Write(ctx, conn, outboundFrame{Type: frameReceiveMessage, Message: toWire(msg)}); err != nil {
		logger.Debug("failed to write to room socket", "error", err)
	}
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	_ = wsjson.Write(ctx, conn, outboundFrame{Type: frameError, Error: msg})
}
