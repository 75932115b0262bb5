package event

import (
	"sync"
	"testing"
)

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	var b Bus[int]
	var got []string
	b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })

	b.Publish(1)

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("delivery order = %v, want [a b]", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	var b Bus[string]
	var count int
	unsub := b.Subscribe(func(string) { count++ })

	b.Publish("x")
	unsub()
	unsub() // second call must be harmless
	b.Publish("y")

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}

func TestBus_UnsubscribeOnlyRemovesOwnHandler(t *testing.T) {
	t.Parallel()

	var b Bus[int]
	var first, second int
	unsubFirst := b.Subscribe(func(int) { first++ })
	b.Subscribe(func(int) { second++ })

	unsubFirst()
	b.Publish(7)

	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d, want 0 and 1", first, second)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	t.Parallel()

	var b Bus[int]
	var mu sync.Mutex
	total := 0
	b.Subscribe(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() { b.Publish(2) })
	}
	wg.Wait()

	if total != 100 {
		t.Errorf("total = %d, want 100", total)
	}
}
