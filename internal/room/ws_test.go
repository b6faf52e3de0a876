// ABOUTME: Tests for the room WebSocket transport
// ABOUTME: Drives real sockets against an httptest server: join, send, receive, switch rooms

package room

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gather-gateway/internal/auth"
	"github.com/2389/gather-gateway/internal/store"
)

// identityFromQuery stands in for the JWT middleware: the test client passes
// ?as=<participant-id> and the handler sees an authenticated identity.
func identityFromQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("as"); id != "" {
			r = r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{ParticipantID: id}))
		}
		next.ServeHTTP(w, r)
	})
}

func setupWSServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hub := NewHub(nil)
	t.Cleanup(hub.Close)
	svc := NewService(st, hub, slog.Default())
	srv := httptest.NewServer(identityFromQuery(NewWSHandler(svc, st, slog.Default())))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	require.NoError(t, st.CreateParticipant(ctx, &store.Participant{ID: "part-1", DisplayName: "Ada"}))
	require.NoError(t, st.CreateParticipant(ctx, &store.Participant{ID: "part-2", DisplayName: "Lin"}))
	return srv, st
}

func dial(t *testing.T, srv *httptest.Server, participantID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "?as=" + participantID
	conn, _, err := websocket.Dial(t.Context(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) outboundFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	var frame outboundFrame
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	return frame
}

func TestWSJoinSendReceive(t *testing.T) {
	srv, _ := setupWSServer(t)
	ctx := t.Context()

	ada := dial(t, srv, "part-1")
	lin := dial(t, srv, "part-2")

	require.NoError(t, wsjson.Write(ctx, ada, inboundFrame{Type: frameJoinRoom, GatheringID: "gath-1"}))
	require.NoError(t, wsjson.Write(ctx, lin, inboundFrame{Type: frameJoinRoom, GatheringID: "gath-1"}))

	// Joins race the send; give the subscriptions a beat to register.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, wsjson.Write(ctx, ada, inboundFrame{Type: frameSendMessage, Body: "hello room"}))

	// The sender gets the persisted message echoed back.
	echo := readFrame(t, ada)
	assert.Equal(t, frameReceiveMessage, echo.Type)
	require.NotNil(t, echo.Message)
	assert.Equal(t, "hello room", echo.Message.Body)
	assert.Equal(t, "part-1", echo.Message.SenderID)
	assert.Equal(t, "Ada", echo.Message.SenderName)

	// The other participant receives exactly one copy via fan-out.
	got := readFrame(t, lin)
	assert.Equal(t, frameReceiveMessage, got.Type)
	require.NotNil(t, got.Message)
	assert.Equal(t, echo.Message.ID, got.Message.ID)
}

func TestWSSendBeforeJoin(t *testing.T) {
	srv, _ := setupWSServer(t)
	ctx := t.Context()

	conn := dial(t, srv, "part-1")
	require.NoError(t, wsjson.Write(ctx, conn, inboundFrame{Type: frameSendMessage, Body: "premature"}))

	frame := readFrame(t, conn)
	assert.Equal(t, frameError, frame.Type)
	assert.Contains(t, frame.Error, "join a room")
}

func TestWSRejoinSwitchesRoom(t *testing.T) {
	srv, _ := setupWSServer(t)
	ctx := t.Context()

	mover := dial(t, srv, "part-1")
	sender := dial(t, srv, "part-2")

	require.NoError(t, wsjson.Write(ctx, mover, inboundFrame{Type: frameJoinRoom, GatheringID: "gath-1"}))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, wsjson.Write(ctx, mover, inboundFrame{Type: frameJoinRoom, GatheringID: "gath-2"}))
	time.Sleep(50 * time.Millisecond)

	// A message in the old room must not reach the moved connection.
	require.NoError(t, wsjson.Write(ctx, sender, inboundFrame{Type: frameJoinRoom, GatheringID: "gath-1"}))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, wsjson.Write(ctx, sender, inboundFrame{Type: frameSendMessage, Body: "old room"}))

	readCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	var frame outboundFrame
	err := wsjson.Read(readCtx, mover, &frame)
	assert.Error(t, err, "moved connection should not receive messages from the old room")
}

func TestWSOpenModeTrustsQueryParticipant(t *testing.T) {
	srv, _ := setupWSServer(t)
	ctx := t.Context()

	// No auth middleware in front: the handler accepts the client-announced
	// participant_id, the same trust the JSON handlers extend when no
	// jwt_secret is configured.
	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "?participant_id=part-1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	require.NoError(t, wsjson.Write(ctx, conn, inboundFrame{Type: frameJoinRoom, GatheringID: "gath-1"}))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, wsjson.Write(ctx, conn, inboundFrame{Type: frameSendMessage, Body: "open mode"}))

	echo := readFrame(t, conn)
	assert.Equal(t, frameReceiveMessage, echo.Type)
	require.NotNil(t, echo.Message)
	assert.Equal(t, "part-1", echo.Message.SenderID)
	assert.Equal(t, "Ada", echo.Message.SenderName)
}

func TestWSIdentityOverridesQueryParticipant(t *testing.T) {
	srv, _ := setupWSServer(t)
	ctx := t.Context()

	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "?as=part-1&participant_id=part-2"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	require.NoError(t, wsjson.Write(ctx, conn, inboundFrame{Type: frameJoinRoom, GatheringID: "gath-1"}))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, wsjson.Write(ctx, conn, inboundFrame{Type: frameSendMessage, Body: "who am i"}))

	echo := readFrame(t, conn)
	require.NotNil(t, echo.Message)
	assert.Equal(t, "part-1", echo.Message.SenderID, "authenticated identity wins over the query parameter")
}

func TestWSUnauthenticated(t *testing.T) {
	srv, _ := setupWSServer(t)

	url := strings.Replace(srv.URL, "http://", "ws://", 1)
	_, resp, err := websocket.Dial(t.Context(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSUnknownParticipant(t *testing.T) {
	srv, _ := setupWSServer(t)

	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "?as=ghost"
	_, resp, err := websocket.Dial(t.Context(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSUnknownFrameType(t *testing.T) {
	srv, _ := setupWSServer(t)
	ctx := t.Context()

	conn := dial(t, srv, "part-1")
	require.NoError(t, wsjson.Write(ctx, conn, inboundFrame{Type: "leave_room"}))

	frame := readFrame(t, conn)
	assert.Equal(t, frameError, frame.Type)
	assert.Contains(t, frame.Error, "unknown frame type")
}
