// bus/bus_test.go
package bus

import (
	"sort"
	"testing"
	"time"
)

const (
	TopicCharge = "charge"
	TopicActive = "active_port"
)

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(Topic{TopicCharge, TopicActive})

	msg := conn.NewMessage(Topic{TopicCharge, TopicActive}, "hello", false)
	conn.Publish(msg)

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "hello" {
			t.Errorf("expected payload 'hello', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(Topic{TopicCharge, TopicActive}, "persist", true))

	sub := conn.Subscribe(Topic{TopicCharge, TopicActive})

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "persist" {
			t.Errorf("expected retained payload 'persist', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for retained message")
	}
}

func TestIntTokens(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	s0 := c.Subscribe(T("tcpc", 0, "state"))
	sAny := c.Subscribe(T("tcpc", "+", "state"))

	c.Publish(b.NewMessage(T("tcpc", 1, "state"), "p1", false))
	expectOneOf(t, sAny, "p1")
	expectNoMessage(t, s0)

	c.Publish(b.NewMessage(T("tcpc", 0, "state"), "p0", false))
	expectOneOf(t, s0, "p0")
	expectOneOf(t, sAny, "p0")
}

func TestQueueFull_DropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(Topic{"a"})

	for _, p := range []string{"1", "2", "3"} {
		c.Publish(b.NewMessage(Topic{"a"}, p, false))
	}
	expectOneOf(t, s, "2")
	expectOneOf(t, s, "3")
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(Topic{"a", "+", "c"})
	s2 := c.Subscribe(Topic{"a", "+", "+"})
	s3 := c.Subscribe(Topic{"a", "b", "+"})
	sNo := c.Subscribe(Topic{"a", "+", "d"})

	c.Publish(b.NewMessage(Topic{"a", "b", "c"}, "m1", false))

	expectOneOf(t, s1, "m1")
	expectOneOf(t, s2, "m1")
	expectOneOf(t, s3, "m1")
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(Topic{"a", "x", "y"}, "m2", false))

	expectOneOf(t, s2, "m2")
	expectNoMessage(t, s1)
	expectNoMessage(t, s3)
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(Topic{"a", "c"}, "m3", false))
	expectNoMessage(t, s1)
	expectNoMessage(t, s2)
	expectNoMessage(t, s3)
	expectNoMessage(t, sNo)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sAHash := c.Subscribe(Topic{"a", "#"})
	sHash := c.Subscribe(Topic{"#"})
	sABHash := c.Subscribe(Topic{"a", "b", "#"})
	sAExact := c.Subscribe(Topic{"a"})

	c.Publish(b.NewMessage(Topic{"a"}, "p1", false))
	expectOneOf(t, sAHash, "p1")
	expectOneOf(t, sHash, "p1")
	expectOneOf(t, sAExact, "p1")
	expectNoMessage(t, sABHash)

	c.Publish(b.NewMessage(Topic{"a", "b", "c"}, "p3", false))
	expectOneOf(t, sAHash, "p3")
	expectOneOf(t, sHash, "p3")
	expectOneOf(t, sABHash, "p3")
	expectNoMessage(t, sAExact)
}

func TestWildcard_RetainedDelivery(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(Topic{"a"}, "r0", true))
	c.Publish(b.NewMessage(Topic{"a", "b"}, "r1", true))
	c.Publish(b.NewMessage(Topic{"a", "b", "c"}, "r2", true))
	c.Publish(b.NewMessage(Topic{"a", "x"}, "r3", true))

	sAll := c.Subscribe(Topic{"a", "#"})
	assertUnorderedEqual(t, drainPayloads(t, sAll, 4), []string{"r0", "r1", "r2", "r3"})

	sPlusHash := c.Subscribe(Topic{"a", "+", "#"})
	assertUnorderedEqual(t, drainPayloads(t, sPlusHash, 3), []string{"r1", "r2", "r3"})

	sPlus := c.Subscribe(Topic{"a", "+"})
	assertUnorderedEqual(t, drainPayloads(t, sPlus, 2), []string{"r1", "r3"})
}

func TestWildcard_RetainedClear(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(Topic{"a", "b"}, "keep", true))
	c.Publish(b.NewMessage(Topic{"a", "y"}, "other", true))

	c.Publish(b.NewMessage(Topic{"a", "b"}, nil, true))

	s := c.Subscribe(Topic{"a", "#"})
	got := drainPayloads(t, s, 1)

	if len(got) != 1 || got[0] != "other" {
		t.Fatalf("expected only 'other' after clear, got %v", got)
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	s := c.Subscribe(Topic{"a", "b"})
	s.Unsubscribe()

	if _, ok := <-s.Channel(); ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	c.Publish(b.NewMessage(Topic{"a", "b"}, "late", false))
	// Second unsubscribe is a no-op.
	s.Unsubscribe()
}

func TestDisconnect(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	s1 := c.Subscribe(Topic{"x"})
	s2 := c.Subscribe(Topic{"y", "#"})
	c.Disconnect()

	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("expected closed channel for %v", s.Topic())
		}
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func expectOneOf(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			t.Fatalf("unexpected payload: %v (want %q)", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(30 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if s, ok := m.Payload.(string); ok {
				out = append(out, s)
			} else {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("drainPayloads: expected %d messages, got %d (%v)", n, len(out), out)
	}
	return out
}

func assertUnorderedEqual(t *testing.T, got, want []string) {
	t.Helper()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d (%v vs %v)", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("mismatch at %d: got %q, want %q (got=%v want=%v)", i, got[i], want[i], got, want)
		}
	}
}

func TestTopic_InvalidTokenPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for non-comparable token, got none")
		}
	}()

	// []byte is not comparable, so T should panic
	_ = T([]byte{1, 2, 3})
}
