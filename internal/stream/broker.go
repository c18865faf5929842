// Package stream provides the in-process fan-out primitives behind live
// queries: a topic broker, a behaviour subject and a ref-counted registry of
// shared streams.
package stream

import (
	"context"
	"sync"
)

const defaultBufferSize = 16

// Broker fans messages out to subscribers of a topic. Slow subscribers miss
// messages rather than blocking publishers.
type Broker[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber[T]
	nextID      int64
	bufferSize  int
}

type subscriber[T any] struct {
	id     int64
	stream chan T
	once   sync.Once
}

// NewBroker constructs an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: make(map[string]map[int64]*subscriber[T]),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers for topic until ctx is done or the returned cleanup runs.
func (b *Broker[T]) Subscribe(ctx context.Context, topic string) (<-chan T, func()) {
	if topic == "" {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber[T]{
		id:     b.nextSequence(),
		stream: make(chan T, b.bufferSize),
	}
	b.register(topic, sub)
	cleanup := func() {
		b.unregister(topic, sub)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers message to current subscribers of topic.
func (b *Broker[T]) Publish(topic string, message T) {
	if topic == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers[topic] {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers listen on topic.
func (b *Broker[T]) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

func (b *Broker[T]) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Broker[T]) register(topic string, sub *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[int64]*subscriber[T])
	}
	b.subscribers[topic][sub.id] = sub
}

// unregister closes the subscriber stream under the write lock so Publish
// never sends on a closed channel.
func (b *Broker[T]) unregister(topic string, sub *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subscribers := b.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, sub.id)
		if len(subscribers) == 0 {
			delete(b.subscribers, topic)
		}
	}
	sub.once.Do(func() {
		close(sub.stream)
	})
}
