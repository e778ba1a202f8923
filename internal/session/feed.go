package session

import "sync"

// feed is an explicit broadcast container: one current snapshot plus a list
// of subscriber callbacks invoked synchronously on every replacement.
// Subscribers must treat the value they receive as read-only.
type feed[T any] struct {
	mu      sync.Mutex
	current T
	subs    []func(T)
}

func newFeed[T any](initial T) *feed[T] {
	return &feed[T]{current: initial}
}

// Subscribe registers a callback and immediately delivers the current value.
func (f *feed[T]) Subscribe(fn func(T)) {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	current := f.current
	f.mu.Unlock()

	fn(current)
}

func (f *feed[T]) Current() T {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.current
}

// Publish replaces the snapshot wholesale and notifies every subscriber.
func (f *feed[T]) Publish(value T) {
	f.mu.Lock()
	f.current = value
	subs := make([]func(T), len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// stream is a feed without a retained value, for one-shot notifications
// such as error advisories.
type stream[T any] struct {
	mu   sync.Mutex
	subs []func(T)
}

func newStream[T any]() *stream[T] {
	return &stream[T]{}
}

func (s *stream[T]) Subscribe(fn func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = append(s.subs, fn)
}

func (s *stream[T]) Publish(value T) {
	s.mu.Lock()
	subs := make([]func(T), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}
