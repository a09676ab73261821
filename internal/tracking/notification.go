package tracking

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names a notification.
type Kind int

const (
	BeaconsFound Kind = iota
	RegionEntered
	RegionExited
	EddystoneUIDFound
	EddystoneURLFound
	Error
)

var kindNames = map[Kind]string{
	BeaconsFound:      "BeaconsFound",
	RegionEntered:     "EnteredRegion",
	RegionExited:      "ExitedRegion",
	EddystoneUIDFound: "EddystoneUIDFound",
	EddystoneURLFound: "EddystoneURLFound",
	Error:             "Error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown notification kind %q", b)
}

// Notification is an event for the host application.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Source  string    `json:"source"`
	Beacons []Record  `json:"beacons,omitempty"`
	Err     string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

const hubBuffer = 32

// Hub fans notifications out to subscribers. Slow subscribers lose
// notifications rather than stall the tracking goroutine.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]chan Notification
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Notification)}
}

// Subscribe registers a new subscriber. The channel is closed by
// Unsubscribe or Close.
func (h *Hub) Subscribe() (string, <-chan Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Notification, hubBuffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Publish implements Publisher.
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			// subscriber is behind; drop
		}
	}
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Notification)

func (f PublisherFunc) Publish(n Notification) { f(n) }
