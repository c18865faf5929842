package stream

import (
	"context"
	"sync"
)

// Producer feeds a shared subject until ctx is cancelled.
type Producer[T any] func(ctx context.Context, subject *Subject[T])

// Registry shares one producer per key between any number of consumers and
// tears it down when the last consumer releases it.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[string]*registryEntry[T]
}

type registryEntry[T any] struct {
	refCount int
	subject  *Subject[T]
	cancel   context.CancelFunc
}

// NewRegistry constructs an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]*registryEntry[T])}
}

// Subscribe acquires the shared subject for key, starting produce when no
// other consumer holds it. The returned release must be called exactly once.
func (r *Registry[T]) Subscribe(key string, produce Producer[T]) (*Subject[T], func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		entry = &registryEntry[T]{subject: NewSubject[T](), cancel: cancel}
		r.entries[key] = entry
		go produce(ctx, entry.subject)
	}
	entry.refCount++

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.unsubscribe(key, entry)
		})
	}
	return entry.subject, release
}

func (r *Registry[T]) unsubscribe(key string, entry *registryEntry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.refCount--
	if entry.refCount > 0 {
		return
	}
	if current, ok := r.entries[key]; ok && current == entry {
		delete(r.entries, key)
	}
	entry.cancel()
	entry.subject.Complete()
}

// RefCount reports the consumers currently holding key.
func (r *Registry[T]) RefCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[key]; ok {
		return entry.refCount
	}
	return 0
}

// Keys lists the keys with at least one consumer.
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	return keys
}

// Each calls fn with every live subject; fn must not call back into the registry.
func (r *Registry[T]) Each(fn func(key string, subject *Subject[T])) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.entries {
		fn(key, entry.subject)
	}
}
