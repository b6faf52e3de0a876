// ABOUTME: Room chat service - persist-then-fanout for gathering rooms
// ABOUTME: Every message is written to the store before it reaches any subscriber

package room

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/gather-gateway/internal/store"
)

// Service handles room chat: persisting messages, fanning them out to
// connected participants, and serving history. Rooms are keyed by gathering
// id and exist implicitly; joining a room requires knowing the gathering id
// and nothing else. Admission status is not consulted here.
type Service struct {
	store  store.Store
	hub    *Hub
	logger *slog.Logger
}

func NewService(st store.Store, hub *Hub, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		hub:    hub,
		logger: logger.With("component", "room"),
	}
}

// Send persists a message in the gathering's room and fans it out to every
// subscriber except the sender's own subscription. A failed write means no
// fan-out: subscribers only ever see messages that are in history.
func (s *Service) Send(ctx context.Context, gatheringID, senderID, senderName, body, excludeSubID string) (*store.RoomMessage, error) {
	msg := &store.RoomMessage{
		ID:          uuid.New().String(),
		GatheringID: gatheringID,
		SenderID:    senderID,
		SenderName:  senderName,
		Body:        body,
		SentAt:      time.Now().UTC(),
	}
	if err := s.store.SaveRoomMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving room message: %w", err)
	}

	s.hub.Publish(gatheringID, msg, excludeSubID)
	return msg, nil
}

// History returns the room's full message log, oldest first. There is no
// pagination; rooms are scoped to a single gathering and stay small.
func (s *Service) History(ctx context.Context, gatheringID string) ([]*store.RoomMessage, error) {
	return s.store.ListRoomMessages(ctx, gatheringID)
}

// Subscribe attaches a listener to the gathering's room until ctx ends.
func (s *Service) Subscribe(ctx context.Context, gatheringID string) (<-chan *store.RoomMessage, string) {
	return s.hub.Subscribe(ctx, gatheringID)
}

// Unsubscribe detaches a listener from the gathering's room.
func (s *Service) Unsubscribe(gatheringID, subID string) {
	s.hub.Unsubscribe(gatheringID, subID)
}
