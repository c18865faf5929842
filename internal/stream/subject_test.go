package stream

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubjectReplaysCurrentValue(t *testing.T) {
	subject := NewSubjectWithValue(3)
	values := subject.Subscribe(context.Background())

	if got := <-values; got != 3 {
		t.Fatalf("expected replayed value 3, got %d", got)
	}
	subject.Next(4)
	if got := <-values; got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
}

func TestSubjectKeepsOnlyLatestForSlowReader(t *testing.T) {
	subject := NewSubject[int]()
	values := subject.Subscribe(context.Background())
	for i := 1; i <= 10; i++ {
		subject.Next(i)
	}
	if got := <-values; got != 10 {
		t.Fatalf("expected latest value 10, got %d", got)
	}
}

func TestSubjectCompleteClosesSubscribers(t *testing.T) {
	subject := NewSubject[string]()
	values := subject.Subscribe(context.Background())
	subject.Complete()

	select {
	case _, ok := <-values:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected channel to close")
	}
	subject.Next("ignored")
	if _, has := subject.Value(); has {
		t.Fatal("completed subject must ignore values")
	}
	if _, ok := <-subject.Subscribe(context.Background()); ok {
		t.Fatal("subscribing to a completed subject must yield a closed channel")
	}
}

func TestRegistrySharesProducerAndTearsDown(t *testing.T) {
	registry := NewRegistry[int]()
	var started atomic.Int32
	stopped := make(chan struct{})
	produce := func(ctx context.Context, subject *Subject[int]) {
		started.Add(1)
		subject.Next(1)
		<-ctx.Done()
		close(stopped)
	}

	first, releaseFirst := registry.Subscribe("program:SIH", produce)
	second, releaseSecond := registry.Subscribe("program:SIH", produce)
	if first != second {
		t.Fatal("expected shared subject")
	}
	if registry.RefCount("program:SIH") != 2 {
		t.Fatalf("expected ref count 2, got %d", registry.RefCount("program:SIH"))
	}

	releaseFirst()
	releaseFirst()
	if registry.RefCount("program:SIH") != 1 {
		t.Fatalf("release must be idempotent, ref count %d", registry.RefCount("program:SIH"))
	}

	releaseSecond()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected producer to stop after last release")
	}
	if started.Load() != 1 {
		t.Fatalf("expected a single producer, got %d", started.Load())
	}
	if !first.Completed() {
		t.Fatal("expected subject to complete after last release")
	}
}
