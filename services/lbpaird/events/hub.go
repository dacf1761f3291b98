// Package events fans committed pair operations out to websocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// Type names an event topic.
type Type string

const (
	TypeSwap             Type = "swap"
	TypeLiquidityAdded   Type = "liquidity_added"
	TypeLiquidityRemoved Type = "liquidity_removed"
	TypeEpochClosed      Type = "epoch_closed"
	TypeFeesUpdated      Type = "fees_updated"
)

// Event is one message on a pair stream.
type Event struct {
	Type     Type      `json:"type"`
	Pair     string    `json:"pair"`
	ActiveID uint32    `json:"activeId"`
	Data     any       `json:"data,omitempty"`
	At       time.Time `json:"at"`
}

type subscriber struct {
	pair string
	ch   chan Event
}

// Hub delivers events to subscribers of the event's pair. Slow subscribers
// miss events rather than block publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers for events of pair. The returned cancel func must be
// called to release the subscription.
func (h *Hub) Subscribe(pair string) (<-chan Event, func()) {
	sub := &subscriber{pair: pair, ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish hands ev to every subscriber of ev.Pair.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.pair != ev.Pair {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped for full subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscribers reports the current number of subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeWS upgrades the request and streams pair events until the client
// disconnects or the request context ends.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, pair string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, pair); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, pair string) error {
	updates, cancel := h.Subscribe(pair)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
