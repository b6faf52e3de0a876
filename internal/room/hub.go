// ABOUTME: In-memory fan-out hub for room chat messages
// ABOUTME: Publishes persisted RoomMessages to all subscribers of a gathering's room

package room

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/gather-gateway/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Hub provides in-memory pub/sub for persisted room messages. Subscribers
// register for a gathering id and receive messages as they are persisted.
// Delivery is in-process only.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.RoomMessage // gatheringID -> subID -> ch
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan *store.RoomMessage),
		logger:      logger.With("component", "room-hub"),
	}
}

// Subscribe registers a subscriber for messages in the given gathering's
// room. Returns a channel that receives messages and a subscription ID for
// later unsubscription. The subscription is automatically cleaned up when
// ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, gatheringID string) (<-chan *store.RoomMessage, string) {
	subID := uuid.New().String()
	ch := make(chan *store.RoomMessage, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[gatheringID]; !ok {
		h.subscribers[gatheringID] = make(map[string]chan *store.RoomMessage)
	}
	h.subscribers[gatheringID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added",
		"gathering_id", gatheringID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		h.Unsubscribe(gatheringID, subID)
	}()

	return ch, subID
}

// Publish sends a message to all subscribers of the gathering's room. If
// excludeSubID is non-empty, that subscriber is skipped (the sender already
// has the message locally). Non-blocking: messages are dropped for
// subscribers whose channels are full.
func (h *Hub) Publish(gatheringID string, msg *store.RoomMessage, excludeSubID string) {
	h.mu.RLock()
	subs, ok := h.subscribers[gatheringID]
	if !ok || len(subs) == 0 {
		h.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan *store.RoomMessage, 0, len(subs))
	for id, ch := range subs {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- msg:
			// Sent
		default:
			// Subscriber channel full — drop message for this subscriber
			h.logger.Debug("dropped message for slow subscriber",
				"gathering_id", gatheringID,
				"message_id", msg.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(gatheringID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[gatheringID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty room entries
	if len(subs) == 0 {
		delete(h.subscribers, gatheringID)
	}

	h.logger.Debug("subscriber removed",
		"gathering_id", gatheringID,
		"sub_id", subID)
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for gatheringID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, gatheringID)
	}

	h.logger.Debug("hub closed")
}
