// ABOUTME: Store interface and data types for gather-gateway persistence
// ABOUTME: Defines Gathering, Participant, RoomMessage, Notification and the admission ledger contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrGatheringNotFound is returned when a gathering lookup misses
var ErrGatheringNotFound = errors.New("gathering not found")

// ErrParticipantNotFound is returned when a participant lookup misses
var ErrParticipantNotFound = errors.New("participant not found")

// ErrDuplicateGathering is returned when creating a gathering whose id already exists
var ErrDuplicateGathering = errors.New("gathering already exists")

// Gathering is an organizer-published event. The admission ledger for a
// gathering lives in the admissions table, keyed by gathering id.
type Gathering struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Location    string
	Category    string
	StartsAt    time.Time
	PriceCents  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Free reports whether admission requires no payment.
func (g *Gathering) Free() bool {
	return g.PriceCents == 0
}

// Participant is a directory entry for a person who can request admission.
type Participant struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

// RoomMessage is one chat message in a gathering's room, append-only,
// ordered by arrival at the persistence layer.
type RoomMessage struct {
	ID          string
	GatheringID string
	SenderID    string
	SenderName  string
	Body        string
	SentAt      time.Time
}

// Notification kinds. Matches the engagement events that produce them.
const (
	NotificationKindJoin    = "join"
	NotificationKindLike    = "like"
	NotificationKindComment = "comment"
	NotificationKindAlert   = "alert"
)

// Notification is a per-recipient activity record. Read state is coarse:
// it is only ever flipped by MarkAllNotificationsRead for the recipient.
type Notification struct {
	ID          string
	RecipientID string
	ActorID     string
	ActorName   string
	Kind        string
	Body        string
	GatheringID string
	Read        bool
	CreatedAt   time.Time
}

// Store defines persistence for the admission core.
type Store interface {
	// Gathering directory
	CreateGathering(ctx context.Context, g *Gathering) error
	GetGathering(ctx context.Context, id string) (*Gathering, error)

	// Participant directory
	CreateParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, id string) (*Participant, error)

	// Admission ledger. ToggleAdmission is deliberately NOT idempotent:
	// toggling an admitted pair revokes the admission. Callers own the
	// at-most-once-per-intent guarantee.
	IsAdmitted(ctx context.Context, gatheringID, participantID string) (bool, error)
	ToggleAdmission(ctx context.Context, gatheringID, participantID string) (admitted bool, err error)
	ListAdmitted(ctx context.Context, gatheringID string) ([]*Participant, error)
	CountAdmitted(ctx context.Context, gatheringID string) (int, error)

	// Room transcript
	SaveRoomMessage(ctx context.Context, msg *RoomMessage) error
	ListRoomMessages(ctx context.Context, gatheringID string) ([]*RoomMessage, error)

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]*Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)

	// Ping reports whether the underlying database is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
