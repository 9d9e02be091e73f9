package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 64
	pingInterval     = 30 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub pushes events to websocket subscribers of an auction. A subscriber
// whose buffer is full misses the event; the claim ticket can always be
// re-read, so nothing is lost for good.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a listener for an auction. The returned cancel func
// closes the channel.
func (h *Hub) Subscribe(auctionID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	id := h.nextID
	h.nextID++
	if h.subs[auctionID] == nil {
		h.subs[auctionID] = make(map[int]chan Event)
	}
	h.subs[auctionID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[auctionID], id)
			if len(h.subs[auctionID]) == 0 {
				delete(h.subs, auctionID)
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of listeners on an auction.
func (h *Hub) Subscribers(auctionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[auctionID])
}

// Notify implements Notifier.
func (h *Hub) Notify(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs[ev.AuctionID] {
		select {
		case ch <- ev:
		default:
			logger.Warningf("Subscriber %d of auction %s is slow, dropping %s", id, ev.AuctionID, ev.Kind)
		}
	}
	return nil
}

// ServeWS upgrades the request and streams the auction's events until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, auctionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Subscribe(auctionID)
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	// The read loop only exists to notice the client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warningf("Websocket write for auction %s failed: %v", auctionID, err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
