package media

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/achneerov/algolounge-voice/internal/core"
)

// Producer is a local track registered with the SFU for forwarding.
type Producer struct {
	ID    string
	track *Track

	closeOnce sync.Once
}

func newProducer(id string, track *Track) *Producer {
	return &Producer{ID: id, track: track}
}

func (p *Producer) Kind() core.MediaKind {
	return p.track.Kind()
}

func (p *Producer) Track() *Track {
	return p.track
}

// Close is idempotent. The track is left to its owner; stopping capture is
// the stream's job during teardown.
func (p *Producer) Close() {
	p.closeOnce.Do(func() {
		log.Debug().Str("service", "producer").Str("ID", p.ID).Str("kind", string(p.Kind())).Msg("close producer")
	})
}

// ProducerRegistry holds at most one producer per kind for a session.
type ProducerRegistry struct {
	mu     sync.Mutex
	byKind map[core.MediaKind]*Producer
}

func NewProducerRegistry() *ProducerRegistry {
	return &ProducerRegistry{
		byKind: make(map[core.MediaKind]*Producer),
	}
}

func (r *ProducerRegistry) Add(p *Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKind[p.Kind()]; ok {
		return fmt.Errorf("producer for kind %s already registered", p.Kind())
	}
	r.byKind[p.Kind()] = p

	return nil
}

func (r *ProducerRegistry) Get(kind core.MediaKind) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byKind[kind]
	return p, ok
}

func (r *ProducerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byKind)
}

// CloseAll closes and forgets every producer. Safe to call repeatedly.
func (r *ProducerRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, p := range r.byKind {
		p.Close()
		delete(r.byKind, kind)
	}
}
