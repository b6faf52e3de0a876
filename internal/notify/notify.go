// ABOUTME: In-app notification service built on the persistent store
// ABOUTME: Records best-effort notifications and serves recipient feeds

package notify

import (
	"context"
	"log/slog"

	"github.com/2389/gather-gateway/internal/store"
	"github.com/google/uuid"
)

// Service records and serves in-app notifications. Delivery is best-effort:
// a failed write never propagates to the operation that triggered it.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

func NewService(st store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With("component", "notify"),
	}
}

// Notify records a notification for n.RecipientID. The ID is assigned here.
// Failures are logged and swallowed so the caller's operation is never
// disturbed by a broken notification write.
func (s *Service) Notify(ctx context.Context, n store.Notification) {
	n.ID = uuid.New().String()
	if err := s.store.CreateNotification(ctx, &n); err != nil {
		s.logger.Error("failed to record notification",
			"recipient_id", n.RecipientID,
			"kind", n.Kind,
			"error", err)
	}
}

// List returns the recipient's notifications, newest first. When unreadOnly
// is set, read notifications are filtered out.
func (s *Service) List(ctx context.Context, recipientID string, unreadOnly bool) ([]*store.Notification, error) {
	return s.store.ListNotifications(ctx, recipientID, unreadOnly)
}

// MarkAllRead marks every notification for the recipient as read and reports
// how many were flipped.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, recipientID)
}
