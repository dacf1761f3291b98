package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestPublishFiltersByPair(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe("A")
	defer cancelA()
	b, cancelB := hub.Subscribe("B")

	hub.Publish(Event{Type: TypeSwap, Pair: "A", ActiveID: 7})
	select {
	case ev := <-a:
		require.Equal(t, uint32(7), ev.ActiveID)
		require.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber A missed the event")
	}
	select {
	case ev := <-b:
		t.Fatalf("subscriber B received %+v", ev)
	default:
	}

	cancelB()
	cancelB()
	require.Equal(t, 1, hub.Subscribers())
}

func TestPublishDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("A")
	defer cancel()
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(Event{Type: TypeSwap, Pair: "A"})
	}
	require.Equal(t, uint64(5), hub.Dropped())
}

func TestServeWSStreamsEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "A")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish(Event{Type: TypeEpochClosed, Pair: "A", Data: map[string]int{"epoch": 3}})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, TypeEpochClosed, ev.Type)
	require.Equal(t, "A", ev.Pair)
}
