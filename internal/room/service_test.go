// ABOUTME: Tests for the room chat service
// ABOUTME: Covers persist-then-fanout ordering, history, and failed writes

package room

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gather-gateway/internal/store"
)

func setupRoomService(t *testing.T) (*Service, *Hub, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hub := NewHub(nil)
	t.Cleanup(hub.Close)
	return NewService(st, hub, slog.Default()), hub, st
}

func TestSendPersistsAndFansOut(t *testing.T) {
	svc, _, _ := setupRoomService(t)
	ctx := context.Background()

	ch, _ := svc.Subscribe(t.Context(), "gath-1")

	msg, err := svc.Send(ctx, "gath-1", "part-1", "Ada", "hello room", "")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hello room", msg.Body)

	// The message reached the subscriber...
	select {
	case got := <-ch:
		assert.Equal(t, msg.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fan-out")
	}

	// ...and is in history.
	history, err := svc.History(ctx, "gath-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestSendExcludesSender(t *testing.T) {
	svc, _, _ := setupRoomService(t)

	senderCh, senderSub := svc.Subscribe(t.Context(), "gath-1")
	otherCh, _ := svc.Subscribe(t.Context(), "gath-1")

	_, err := svc.Send(context.Background(), "gath-1", "part-1", "Ada", "hi", senderSub)
	require.NoError(t, err)

	select {
	case got := <-otherCh:
		assert.Equal(t, "hi", got.Body)
	case <-time.After(time.Second):
		t.Fatal("other subscriber timed out")
	}

	select {
	case <-senderCh:
		t.Fatal("sender's subscription should not receive its own message")
	case <-time.After(100 * time.Millisecond):
		// Expected
	}
}

func TestHistoryOldestFirst(t *testing.T) {
	svc, _, _ := setupRoomService(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		_, err := svc.Send(ctx, "gath-1", "part-1", "Ada", body, "")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	history, err := svc.History(ctx, "gath-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Body)
	assert.Equal(t, "second", history[1].Body)
	assert.Equal(t, "third", history[2].Body)
}

func TestHistoryEmptyRoom(t *testing.T) {
	svc, _, _ := setupRoomService(t)

	history, err := svc.History(context.Background(), "gath-never-used")
	require.NoError(t, err)
	assert.Empty(t, history)
}

type brokenStore struct {
	store.Store
}

func (b *brokenStore) SaveRoomMessage(ctx context.Context, m *store.RoomMessage) error {
	return errors.New("disk full")
}

func TestSendFailedWriteMeansNoFanOut(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	svc := NewService(&brokenStore{}, hub, slog.Default())

	ch, _ := svc.Subscribe(t.Context(), "gath-1")

	_, err := svc.Send(context.Background(), "gath-1", "part-1", "Ada", "lost", "")
	require.Error(t, err)

	select {
	case <-ch:
		t.Fatal("no fan-out should happen when the write fails")
	case <-time.After(100 * time.Millisecond):
		// Expected
	}
}
