package stream

import (
	"context"
	"sync"
)

// Subject holds a current value and replays it to every new subscriber.
// Subscribers only ever see the latest value: a slow reader skips
// intermediate values instead of blocking Next.
type Subject[T any] struct {
	mu        sync.Mutex
	value     T
	hasValue  bool
	completed bool
	nextID    int64
	listeners map[int64]chan T
	done      chan struct{}
}

// NewSubject constructs a subject without an initial value.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{
		listeners: make(map[int64]chan T),
		done:      make(chan struct{}),
	}
}

// NewSubjectWithValue constructs a subject seeded with value.
func NewSubjectWithValue[T any](value T) *Subject[T] {
	subject := NewSubject[T]()
	subject.value = value
	subject.hasValue = true
	return subject
}

// Next publishes value. It is a no-op once the subject is completed.
func (s *Subject[T]) Next(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	s.value = value
	s.hasValue = true
	for _, listener := range s.listeners {
		offerLatest(listener, value)
	}
}

// Value returns the current value and whether one was ever published.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.hasValue
}

// Subscribe streams the current value (if any) followed by every update.
// The channel closes when ctx is done or the subject completes.
func (s *Subject[T]) Subscribe(ctx context.Context) <-chan T {
	s.mu.Lock()
	defer s.mu.Unlock()
	listener := make(chan T, 1)
	if s.completed {
		close(listener)
		return listener
	}
	if s.hasValue {
		listener <- s.value
	}
	s.nextID++
	id := s.nextID
	s.listeners[id] = listener
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if ch, ok := s.listeners[id]; ok {
			delete(s.listeners, id)
			close(ch)
		}
	}()
	return listener
}

// Complete closes every subscriber stream; later calls to Next are ignored.
func (s *Subject[T]) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	s.completed = true
	close(s.done)
	for id, listener := range s.listeners {
		delete(s.listeners, id)
		close(listener)
	}
}

// Completed reports whether Complete was called.
func (s *Subject[T]) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Done is closed when the subject completes.
func (s *Subject[T]) Done() <-chan struct{} {
	return s.done
}

// offerLatest replaces any unread value in a one-slot channel.
func offerLatest[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
