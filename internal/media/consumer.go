package media

import (
	"sync"

	"github.com/achneerov/algolounge-voice/internal/core"
)

// Consumer is the placeholder for inbound media from one remote producer.
// Receive-transport wiring lives a layer below; this registry only keeps the
// bookkeeping so teardown can release everything that was announced.
type Consumer struct {
	ProducerID string
	UserID     core.UserID
	Kind       core.MediaKind

	closeOnce sync.Once
}

func (c *Consumer) Close() {
	c.closeOnce.Do(func() {})
}

type consumerKey struct {
	userID core.UserID
	kind   core.MediaKind
}

// ConsumerRegistry keys placeholder consumers by remote user and kind.
type ConsumerRegistry struct {
	mu sync.Mutex
	m  map[consumerKey]*Consumer
}

func NewConsumerRegistry() *ConsumerRegistry {
	return &ConsumerRegistry{
		m: make(map[consumerKey]*Consumer),
	}
}

// Add registers the consumer, replacing a stale one for the same user+kind.
func (r *ConsumerRegistry) Add(c *Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := consumerKey{userID: c.UserID, kind: c.Kind}
	if old, ok := r.m[key]; ok {
		old.Close()
	}
	r.m[key] = c
}

// RemoveUser drops every consumer belonging to a departed participant.
func (r *ConsumerRegistry) RemoveUser(userID core.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, c := range r.m {
		if key.userID == userID {
			c.Close()
			delete(r.m, key)
		}
	}
}

func (r *ConsumerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.m)
}

// CloseAll closes and forgets every consumer. Safe to call repeatedly.
func (r *ConsumerRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, c := range r.m {
		c.Close()
		delete(r.m, key)
	}
}
