package network

import (
	"sync"
	"time"
)

// Kind identifies a notification
type Kind string

const (
	KindPeerDiscovered  Kind = "peer_discovered"
	KindPost            Kind = "post"
	KindDirectMessage   Kind = "direct_message"
	KindFollow          Kind = "follow"
	KindUnfollow        Kind = "unfollow"
	KindLike            Kind = "like"
	KindUnlike          Kind = "unlike"
	KindGroupMembership Kind = "group_membership"
	KindGroupMessage    Kind = "group_message"
	KindFileOffer       Kind = "file_offer"
	KindFileComplete    Kind = "file_complete"
	KindFileFailed      Kind = "file_failed"
	KindGameInvite      Kind = "game_invite"
	KindGameStart       Kind = "game_start"
	KindGameMove        Kind = "game_move"
	KindGameResult      Kind = "game_result"
	KindSecurityAlert   Kind = "security_alert"
	KindDiagnostic      Kind = "diagnostic"
)

// Notification reports a state change to the user facing layer
type Notification struct {
	Kind Kind      `json:"kind"`
	From string    `json:"from,omitempty"`
	Text string    `json:"text,omitempty"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Notification)

// Notify calls f(n)
func (f NotifierFunc) Notify(n Notification) { f(n) }

var now = time.Now

type discard struct{}

func (discard) Notify(Notification) {}

// Hub fans notifications out to any number of subscribers.
// A subscriber that falls behind loses notifications instead of stalling the peer.
type Hub struct {
	subs   map[int]chan Notification
	nextID int
	mu     sync.RWMutex
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Notification)}
}

// Notify delivers n to every subscriber
func (h *Hub) Notify(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			log.Debugf("subscriber %d is slow, dropped %s notification", id, n.Kind)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size.
// The returned function unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notification, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
