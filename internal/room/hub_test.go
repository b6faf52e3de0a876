// ABOUTME: Tests for the room fan-out hub
// ABOUTME: Covers subscribe, publish, sender exclusion, cancellation, concurrency

package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gather-gateway/internal/store"
)

func makeMessage(id, gatheringID string) *store.RoomMessage {
	return &store.RoomMessage{
		ID:          id,
		GatheringID: gatheringID,
		SenderID:    "part-1",
		SenderName:  "Ada",
		Body:        "hello from " + id,
		SentAt:      time.Now(),
	}
}

func TestHub_SingleSubscriberReceivesMessage(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()

	ch, _ := h.Subscribe(ctx, "gath-1")

	h.Publish("gath-1", makeMessage("msg-1", "gath-1"), "")

	select {
	case received := <-ch:
		assert.Equal(t, "msg-1", received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestHub_MultipleSubscribersReceiveSameMessage(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()

	ch1, _ := h.Subscribe(ctx, "gath-1")
	ch2, _ := h.Subscribe(ctx, "gath-1")
	ch3, _ := h.Subscribe(ctx, "gath-1")

	h.Publish("gath-1", makeMessage("msg-2", "gath-1"), "")

	for i, ch := range []<-chan *store.RoomMessage{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, "msg-2", received.ID, "subscriber %d got wrong message", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()

	ch1, _ := h.Subscribe(ctx, "gath-1")
	ch2, _ := h.Subscribe(ctx, "gath-2")

	h.Publish("gath-1", makeMessage("msg-3", "gath-1"), "")

	select {
	case received := <-ch1:
		assert.Equal(t, "msg-3", received.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for gath-1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for gath-2 should not receive messages for gath-1")
	case <-time.After(100 * time.Millisecond):
		// Expected: no message
	}
}

func TestHub_ExcludeSubIDSkipsSender(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()

	ch1, subID1 := h.Subscribe(ctx, "gath-1")
	ch2, _ := h.Subscribe(ctx, "gath-1")

	h.Publish("gath-1", makeMessage("msg-4", "gath-1"), subID1)

	select {
	case <-ch1:
		t.Fatal("excluded subscriber should not receive the message")
	case <-time.After(100 * time.Millisecond):
		// Expected
	}

	select {
	case received := <-ch2:
		assert.Equal(t, "msg-4", received.ID)
	case <-time.After(time.Second):
		t.Fatal("non-excluded subscriber timed out")
	}
}

func TestHub_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()

	// Subscribe but never read from ch1 (slow consumer)
	_, _ = h.Subscribe(ctx, "gath-1")
	ch2, _ := h.Subscribe(ctx, "gath-1")

	for i := range 100 {
		h.Publish("gath-1", makeMessage("msg-overflow-"+string(rune('0'+i%10)), "gath-1"), "")
	}

	receivedCount := 0
	for {
		select {
		case <-ch2:
			receivedCount++
		case <-time.After(200 * time.Millisecond):
			goto done
		}
	}
done:
	assert.Greater(t, receivedCount, 0, "fast consumer should receive at least some messages")
}

func TestHub_ContextCancellationCleansUp(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := h.Subscribe(ctx, "gath-1")

	h.mu.RLock()
	_, exists := h.subscribers["gath-1"][subID]
	h.mu.RUnlock()
	assert.True(t, exists, "subscription should exist before cancel")

	cancel()

	// Give cleanup goroutine time to run
	time.Sleep(50 * time.Millisecond)

	h.mu.RLock()
	subs, roomExists := h.subscribers["gath-1"]
	if roomExists {
		_, subExists := subs[subID]
		assert.False(t, subExists, "subscription should be removed after context cancel")
	}
	h.mu.RUnlock()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestHub_ManualUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()

	ch, subID := h.Subscribe(ctx, "gath-1")

	h.Unsubscribe("gath-1", subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing should not panic
	h.Publish("gath-1", makeMessage("msg-after-unsub", "gath-1"), "")
}

func TestHub_CloseClosesAllSubscriptions(t *testing.T) {
	h := NewHub(nil)

	ch1, _ := h.Subscribe(t.Context(), "gath-1")
	ch2, _ := h.Subscribe(t.Context(), "gath-2")

	h.Close()

	for i, ch := range []<-chan *store.RoomMessage{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}
}

func TestHub_ConcurrentPublishSubscribe(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			ch, _ := h.Subscribe(ctx, "gath-concurrent")
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				h.Publish("gath-concurrent", makeMessage("concurrent-msg", "gath-concurrent"), "")
			}
		})
	}

	wg.Wait()
}

func TestHub_SubscribeReturnsUniqueIDs(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx := t.Context()

	_, id1 := h.Subscribe(ctx, "gath-1")
	_, id2 := h.Subscribe(ctx, "gath-1")
	_, id3 := h.Subscribe(ctx, "gath-2")

	require.NotEqual(t, id1, id2)
	require.NotEqual(t, id1, id3)
	require.NotEqual(t, id2, id3)
}

func TestHub_PublishToEmptyRoom(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	// Should not panic
	h.Publish("nobody-listening", makeMessage("msg-nowhere", "nobody-listening"), "")
}
