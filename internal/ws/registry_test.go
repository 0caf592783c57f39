package ws

import (
	"errors"
	"sync"
	"testing"
)

// fakeConn records sent payloads and can be told to start failing.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	fail   bool
	closed bool
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) lastSent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestRegistry_ConnectDisconnect(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}

	id := r.Connect(conn)
	if id == "" {
		t.Fatal("expected a connection id")
	}
	if r.ConnectionCount() != 1 {
		t.Fatalf("expected 1 connection, got %d", r.ConnectionCount())
	}

	r.Disconnect(id)
	if r.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", r.ConnectionCount())
	}
	if !conn.isClosed() {
		t.Fatal("disconnect must close the connection")
	}

	// Idempotent.
	r.Disconnect(id)
	if r.ConnectionCount() != 0 {
		t.Fatal("repeated disconnect must be a no-op")
	}
}

func TestRegistry_SubscribeUnsubscribe(t *testing.T) {
	r := NewRegistry()
	id := r.Connect(&fakeConn{})

	if !r.Subscribe(id, "build_events") {
		t.Fatal("subscribe should succeed for a live connection")
	}
	if r.Subscribe("ghost", "build_events") {
		t.Fatal("subscribe must fail for unknown connections")
	}
	if r.ChannelSubscriberCount("build_events") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", r.ChannelSubscriberCount("build_events"))
	}

	channels := r.ConnectionChannels(id)
	if len(channels) != 1 || channels[0] != "build_events" {
		t.Fatalf("unexpected channels %v", channels)
	}

	r.Unsubscribe(id, "build_events")
	if r.ChannelSubscriberCount("build_events") != 0 {
		t.Fatal("expected no subscribers after unsubscribe")
	}
}

func TestRegistry_DisconnectRemovesSubscriptions(t *testing.T) {
	r := NewRegistry()
	id := r.Connect(&fakeConn{})
	r.Subscribe(id, "build_events")
	r.Subscribe(id, "system_events")

	r.Disconnect(id)
	if r.ChannelSubscriberCount("build_events") != 0 || r.ChannelSubscriberCount("system_events") != 0 {
		t.Fatal("disconnect must remove the connection from every channel")
	}
}

func TestRegistry_BroadcastReachesOnlySubscribers(t *testing.T) {
	r := NewRegistry()
	subscriber := &fakeConn{}
	bystander := &fakeConn{}
	subID := r.Connect(subscriber)
	r.Connect(bystander)
	r.Subscribe(subID, "job:abc")

	sent := r.Broadcast("job:abc", []byte(`{"type":"build_log"}`))
	if sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	if subscriber.sentCount() != 1 {
		t.Fatalf("subscriber should have 1 message, got %d", subscriber.sentCount())
	}
	if bystander.sentCount() != 0 {
		t.Fatalf("bystander should have 0 messages, got %d", bystander.sentCount())
	}
}

func TestRegistry_TwoSubscribersSameChannel(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{}, &fakeConn{}
	idA, idB := r.Connect(a), r.Connect(b)
	r.Subscribe(idA, "job:xyz")
	r.Subscribe(idB, "job:xyz")

	if sent := r.Broadcast("job:xyz", []byte("hello")); sent != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sent)
	}
	if a.sentCount() != 1 || b.sentCount() != 1 {
		t.Fatalf("both subscribers must receive the message, got %d/%d", a.sentCount(), b.sentCount())
	}

	// One leaves; only the other still receives.
	r.Unsubscribe(idA, "job:xyz")
	if sent := r.Broadcast("job:xyz", []byte("again")); sent != 1 {
		t.Fatalf("expected 1 delivery after unsubscribe, got %d", sent)
	}
	if a.sentCount() != 1 || b.sentCount() != 2 {
		t.Fatalf("unexpected delivery counts %d/%d", a.sentCount(), b.sentCount())
	}
}

func TestRegistry_BroadcastDropsFailedConnections(t *testing.T) {
	r := NewRegistry()
	healthy, broken := &fakeConn{}, &fakeConn{}
	healthyID := r.Connect(healthy)
	brokenID := r.Connect(broken)
	r.Subscribe(healthyID, "build_events")
	r.Subscribe(brokenID, "build_events")
	broken.setFail(true)

	if sent := r.Broadcast("build_events", []byte("x")); sent != 1 {
		t.Fatalf("failed sends must be excluded from the count, got %d", sent)
	}
	if r.ConnectionCount() != 1 {
		t.Fatalf("broken connection should be dropped, got %d live", r.ConnectionCount())
	}
	if !broken.isClosed() {
		t.Fatal("dropped connection must be closed")
	}
	if r.ChannelSubscriberCount("build_events") != 1 {
		t.Fatalf("dropped connection must leave the channel, got %d subscribers", r.ChannelSubscriberCount("build_events"))
	}
}

func TestRegistry_BroadcastAll(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{}, &fakeConn{}
	r.Connect(a)
	r.Connect(b)

	if sent := r.BroadcastAll([]byte("x")); sent != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sent)
	}
}

func TestRegistry_SubscribeHookFiresOncePerChannel(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	activated := make(map[string]int)
	r.SetSubscribeHook(func(channel string) {
		mu.Lock()
		activated[channel]++
		mu.Unlock()
	})

	idA := r.Connect(&fakeConn{})
	idB := r.Connect(&fakeConn{})
	r.Subscribe(idA, "job:abc")
	r.Subscribe(idB, "job:abc")
	r.Subscribe(idA, "system_events")

	mu.Lock()
	defer mu.Unlock()
	if activated["job:abc"] != 1 {
		t.Fatalf("hook must fire once per channel, got %d", activated["job:abc"])
	}
	if activated["system_events"] != 1 {
		t.Fatalf("hook must fire for each new channel, got %d", activated["system_events"])
	}
}

func TestRegistry_Stats(t *testing.T) {
	r := NewRegistry()
	idA := r.Connect(&fakeConn{})
	idB := r.Connect(&fakeConn{})
	r.Subscribe(idA, "build_events")
	r.Subscribe(idB, "build_events")
	r.Subscribe(idB, "health_alerts")

	total, channels := r.Stats()
	if total != 2 {
		t.Fatalf("expected 2 connections, got %d", total)
	}
	if channels["build_events"] != 2 || channels["health_alerts"] != 1 {
		t.Fatalf("unexpected channel stats %v", channels)
	}
}
