package eventbus

import "testing"

type ping struct{ n int }

func TestTypedBusFanOut(t *testing.T) {
	b := NewTyped[ping](4)
	s1 := b.Subscribe(nil)
	s2 := b.Subscribe(nil)
	if n := b.Publish(ping{1}); n != 2 {
		t.Fatalf("delivered to %d subscribers, want 2", n)
	}
	for _, s := range []<-chan ping{s1, s2} {
		if ev := <-s; ev.n != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	b.Unsubscribe(s1)
	if _, ok := <-s1; ok {
		t.Fatalf("unsubscribed channel should be closed")
	}
	b.Unsubscribe(s1)
	if b.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	b.Close()
	b.Close()
	if _, ok := <-s2; ok {
		t.Fatalf("channel should be closed after Close")
	}
	if n := b.Publish(ping{2}); n != 0 {
		t.Fatalf("publish after close delivered %d", n)
	}
}

func TestTypedBusFilter(t *testing.T) {
	b := NewTyped[ping](4)
	even := b.Subscribe(func(p ping) bool { return p.n%2 == 0 })
	all := b.Subscribe(nil)
	for i := 1; i <= 4; i++ {
		b.Publish(ping{i})
	}
	if len(even) != 2 || len(all) != 4 {
		t.Fatalf("even=%d all=%d, want 2 and 4", len(even), len(all))
	}
	if ev := <-even; ev.n != 2 {
		t.Fatalf("first even event = %+v", ev)
	}
}

func TestTypedBusDropsWhenFull(t *testing.T) {
	b := NewTyped[ping](1)
	sub := b.Subscribe(nil)
	b.Publish(ping{1})
	b.Publish(ping{2})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	if ev := <-sub; ev.n != 1 {
		t.Fatalf("first event should be kept, got %+v", ev)
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	b := NewTyped[ping](0)
	b.Close()
	if _, ok := <-b.Subscribe(nil); ok {
		t.Fatalf("subscription on a closed bus must be closed")
	}
}
