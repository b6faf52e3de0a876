// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Holds the admission ledger, room transcripts and notifications with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS gatherings (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			location    TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			starts_at   TEXT NOT NULL,
			price_cents INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (price_cents >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_gatherings_owner ON gatherings(owner_id);

		CREATE TABLE IF NOT EXISTS participants (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email        TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		);

		-- The admission ledger. A row means the participant is currently
		-- admitted; membership is boolean, never a ticket count.
		CREATE TABLE IF NOT EXISTS admissions (
			gathering_id   TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			admitted_at    TEXT NOT NULL,

			PRIMARY KEY (gathering_id, participant_id)
		);

		CREATE INDEX IF NOT EXISTS idx_admissions_participant ON admissions(participant_id);

		CREATE TABLE IF NOT EXISTS room_messages (
			id           TEXT PRIMARY KEY,
			gathering_id TEXT NOT NULL,
			sender_id    TEXT NOT NULL,
			sender_name  TEXT NOT NULL,
			body         TEXT NOT NULL,
			sent_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_room_messages_room ON room_messages(gathering_id, sent_at);

		CREATE TABLE IF NOT EXISTS notifications (
			id           TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			actor_id     TEXT NOT NULL,
			actor_name   TEXT NOT NULL,
			kind         TEXT NOT NULL,
			body         TEXT NOT NULL,
			gathering_id TEXT,
			read         INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL,

			CHECK (kind IN ('join', 'like', 'comment', 'alert'))
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, read);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks database reachability.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateGathering inserts a new gathering.
// Returns ErrDuplicateGathering if the id is already taken.
func (s *SQLiteStore) CreateGathering(ctx context.Context, g *Gathering) error {
	query := `
		INSERT INTO gatherings (id, owner_id, title, description, location, category, starts_at, price_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		g.ID,
		g.OwnerID,
		g.Title,
		g.Description,
		g.Location,
		g.Category,
		g.StartsAt.UTC().Format(time.RFC3339),
		g.PriceCents,
		g.CreatedAt.UTC().Format(time.RFC3339),
		g.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateGathering
		}
		return fmt.Errorf("inserting gathering: %w", err)
	}

	s.logger.Debug("created gathering", "id", g.ID, "owner", g.OwnerID, "price_cents", g.PriceCents)
	return nil
}

// GetGathering retrieves a gathering by ID.
// Returns ErrGatheringNotFound if it doesn't exist.
func (s *SQLiteStore) GetGathering(ctx context.Context, id string) (*Gathering, error) {
	query := `
		SELECT id, owner_id, title, description, location, category, starts_at, price_cents, created_at, updated_at
		FROM gatherings
		WHERE id = ?
	`

	var g Gathering
	var startsAtStr, createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&g.ID,
		&g.OwnerID,
		&g.Title,
		&g.Description,
		&g.Location,
		&g.Category,
		&startsAtStr,
		&g.PriceCents,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrGatheringNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying gathering: %w", err)
	}

	g.StartsAt, err = time.Parse(time.RFC3339, startsAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing starts_at: %w", err)
	}
	g.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	g.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &g, nil
}

// CreateParticipant inserts a directory entry.
// Uses INSERT OR REPLACE so a participant's name/email can be refreshed.
func (s *SQLiteStore) CreateParticipant(ctx context.Context, p *Participant) error {
	query := `
		INSERT OR REPLACE INTO participants (id, display_name, email, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.DisplayName,
		p.Email,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting participant: %w", err)
	}

	s.logger.Debug("created participant", "id", p.ID)
	return nil
}

// GetParticipant retrieves a participant by ID.
// Returns ErrParticipantNotFound if it doesn't exist.
func (s *SQLiteStore) GetParticipant(ctx context.Context, id string) (*Participant, error) {
	query := `SELECT id, display_name, email, created_at FROM participants WHERE id = ?`

	var p Participant
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.DisplayName, &p.Email, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying participant: %w", err)
	}

	p.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &p, nil
}

// IsAdmitted reports whether the participant is currently on the gathering's ledger.
func (s *SQLiteStore) IsAdmitted(ctx context.Context, gatheringID, participantID string) (bool, error) {
	query := `SELECT 1 FROM admissions WHERE gathering_id = ? AND participant_id = ?`

	var one int
	err := s.db.QueryRowContext(ctx, query, gatheringID, participantID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying admission: %w", err)
	}
	return true, nil
}

// ToggleAdmission flips the ledger entry for the pair and returns the new state.
// An admitted pair is revoked; an absent pair is admitted. Two racing toggles
// for the same pair are not serialized here beyond SQLite's own write lock.
func (s *SQLiteStore) ToggleAdmission(ctx context.Context, gatheringID, participantID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM admissions WHERE gathering_id = ? AND participant_id = ?`,
		gatheringID, participantID,
	)
	if err != nil {
		return false, fmt.Errorf("revoking admission: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if deleted > 0 {
		s.logger.Debug("admission revoked", "gathering_id", gatheringID, "participant_id", participantID)
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO admissions (gathering_id, participant_id, admitted_at) VALUES (?, ?, ?)`,
		gatheringID, participantID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("granting admission: %w", err)
	}

	s.logger.Debug("admission granted", "gathering_id", gatheringID, "participant_id", participantID)
	return true, nil
}

// ListAdmitted returns directory entries for everyone on the gathering's ledger,
// ordered by admission time.
func (s *SQLiteStore) ListAdmitted(ctx context.Context, gatheringID string) ([]*Participant, error) {
	query := `
		SELECT p.id, p.display_name, p.email, p.created_at
		FROM admissions a
		JOIN participants p ON p.id = a.participant_id
		WHERE a.gathering_id = ?
		ORDER BY a.admitted_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, gatheringID)
	if err != nil {
		return nil, fmt.Errorf("querying admitted participants: %w", err)
	}
	defer rows.Close()

	var out []*Participant
	for rows.Next() {
		var p Participant
		var createdAtStr string
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Email, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		p.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participant rows: %w", err)
	}
	return out, nil
}

// CountAdmitted returns the current ledger size for a gathering.
// Informational only: nothing enforces a capacity against it.
func (s *SQLiteStore) CountAdmitted(ctx context.Context, gatheringID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admissions WHERE gathering_id = ?`, gatheringID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting admissions: %w", err)
	}
	return n, nil
}

// SaveRoomMessage appends a message to the room transcript.
func (s *SQLiteStore) SaveRoomMessage(ctx context.Context, msg *RoomMessage) error {
	query := `
		INSERT INTO room_messages (id, gathering_id, sender_id, sender_name, body, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.GatheringID,
		msg.SenderID,
		msg.SenderName,
		msg.Body,
		msg.SentAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting room message: %w", err)
	}

	s.logger.Debug("saved room message", "id", msg.ID, "gathering_id", msg.GatheringID)
	return nil
}

// ListRoomMessages returns the full transcript for a room, oldest first.
// No pagination: acceptable only while transcripts stay small.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, gatheringID string) ([]*RoomMessage, error) {
	query := `
		SELECT id, gathering_id, sender_id, sender_name, body, sent_at
		FROM room_messages
		WHERE gathering_id = ?
		ORDER BY sent_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, gatheringID)
	if err != nil {
		return nil, fmt.Errorf("querying room messages: %w", err)
	}
	defer rows.Close()

	var messages []*RoomMessage
	for rows.Next() {
		var msg RoomMessage
		var sentAtStr string
		if err := rows.Scan(&msg.ID, &msg.GatheringID, &msg.SenderID, &msg.SenderName, &msg.Body, &sentAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.SentAt, err = time.Parse(time.RFC3339Nano, sentAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing sent_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// CreateNotification appends a notification.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, recipient_id, actor_id, actor_name, kind, body, gathering_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		n.ID,
		n.RecipientID,
		n.ActorID,
		n.ActorName,
		n.Kind,
		n.Body,
		nullString(n.GatheringID),
		boolToInt(n.Read),
		n.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	s.logger.Debug("created notification", "id", n.ID, "recipient", n.RecipientID, "kind", n.Kind)
	return nil
}

// ListNotifications returns notifications for a recipient, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]*Notification, error) {
	query := `
		SELECT id, recipient_id, actor_id, actor_name, kind, body, gathering_id, read, created_at
		FROM notifications
		WHERE recipient_id = ?
	`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		var gatheringID sql.NullString
		var read int
		var createdAtStr string
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ActorID, &n.ActorName, &n.Kind, &n.Body, &gatheringID, &read, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		if gatheringID.Valid {
			n.GatheringID = gatheringID.String
		}
		n.Read = read != 0
		n.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return out, nil
}

// MarkAllNotificationsRead flips every unread notification for the recipient.
// Returns the number of rows updated. Read state is all-or-nothing per
// recipient; there is no per-notification acknowledgement.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE recipient_id = ? AND read = 0`,
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if updated > 0 {
		s.logger.Debug("marked notifications read", "recipient", recipientID, "count", updated)
	}
	return updated, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
