package bus

import (
	"testing"
	"time"
)

func expectPayload(t *testing.T, sub *Subscription, want any) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		if got.Payload != want {
			t.Errorf("payload = %v, want %v", got.Payload, want)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for %v", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %v", got.Payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("minion", "status"))
	conn.Publish(conn.NewMessage(T("minion", "status"), "standby", false))

	expectPayload(t, sub, "standby")
}

func TestRetainedMessageReplayedToLateSubscriber(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("minion", "status"), "initial_sampling", true))

	sub := conn.Subscribe(T("minion", "status"))
	expectPayload(t, sub, "initial_sampling")
}

func TestRetainedMessageCleared(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("minion", "status"), "standby", true))
	conn.Publish(conn.NewMessage(T("minion", "status"), nil, true))

	sub := conn.Subscribe(T("minion", "status"))
	expectNoMessage(t, sub)
}

func TestWildcardSingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("minion", Wildcard, "trip"))
	s2 := c.Subscribe(T("minion", Wildcard, Wildcard))
	sNo := c.Subscribe(T("minion", Wildcard, "value"))

	c.Publish(b.NewMessage(T("minion", "ring", "trip"), "m1", false))

	expectPayload(t, s1, "m1")
	expectPayload(t, s2, "m1")
	expectNoMessage(t, sNo)

	// Shorter topic must not match a longer filter.
	c.Publish(b.NewMessage(T("minion", "ring"), "m2", false))
	expectNoMessage(t, s1)
	expectNoMessage(t, s2)
}

func TestWildcardRetainedReplay(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("minion", "ring", "trip"), "tripped", true))

	sub := c.Subscribe(T("minion", Wildcard, "trip"))
	expectPayload(t, sub, "tripped")
}

func TestQueueFullDropsOldest(t *testing.T) {
	b := NewBus(1)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("minion", "status"))
	c.Publish(b.NewMessage(T("minion", "status"), "old", false))
	c.Publish(b.NewMessage(T("minion", "status"), "new", false))

	expectPayload(t, sub, "new")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("minion", "status"))
	sub.Unsubscribe()

	// Publishing after unsubscribe must not panic on the closed channel.
	c.Publish(b.NewMessage(T("minion", "status"), "x", false))
}

func TestDisconnectClosesChannels(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("minion", "status"))
	c.Disconnect()

	if _, ok := <-sub.Channel(); ok {
		t.Fatal("channel should be closed after disconnect")
	}
}
