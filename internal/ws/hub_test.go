package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"mcpgate/internal/domain/model"
)

type fakeStatusSource struct {
	jobs map[string]*model.BuildJob
	err  error
}

func (f *fakeStatusSource) GetStatus(ctx context.Context, buildID string) (*model.BuildJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.jobs[buildID], nil
}

func newTestHub(builds *fakeStatusSource) (*Hub, *Registry) {
	registry := NewRegistry()
	if builds == nil {
		builds = &fakeStatusSource{jobs: map[string]*model.BuildJob{}}
	}
	return NewHub(registry, nil, builds, "job:"), registry
}

func decodeFrame(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("invalid frame %s: %v", payload, err)
	}
	return frame
}

func TestHub_PingPong(t *testing.T) {
	hub, registry := newTestHub(nil)
	conn := &fakeConn{}
	id := registry.Connect(conn)

	hub.HandleMessage(context.Background(), id, []byte(`{"type":"ping"}`))

	frame := decodeFrame(t, conn.lastSent())
	if frame["type"] != MsgPong {
		t.Fatalf("expected pong, got %v", frame["type"])
	}
	if frame["timestamp"] == nil {
		t.Fatal("expected a timestamp on the reply")
	}
}

func TestHub_MalformedMessage(t *testing.T) {
	hub, registry := newTestHub(nil)
	conn := &fakeConn{}
	id := registry.Connect(conn)

	hub.HandleMessage(context.Background(), id, []byte(`{not json`))

	frame := decodeFrame(t, conn.lastSent())
	if frame["type"] != MsgError {
		t.Fatalf("malformed input must get an error reply, got %v", frame["type"])
	}
	if registry.ConnectionCount() != 1 {
		t.Fatal("malformed input must not drop the connection")
	}
}

func TestHub_UnknownMessageType(t *testing.T) {
	hub, registry := newTestHub(nil)
	conn := &fakeConn{}
	id := registry.Connect(conn)

	hub.HandleMessage(context.Background(), id, []byte(`{"type":"teleport"}`))

	frame := decodeFrame(t, conn.lastSent())
	if frame["type"] != MsgError {
		t.Fatalf("unknown type must get an error reply, got %v", frame["type"])
	}
}

func TestHub_SubscribeConfirmed(t *testing.T) {
	hub, registry := newTestHub(nil)
	conn := &fakeConn{}
	id := registry.Connect(conn)

	hub.HandleMessage(context.Background(), id, []byte(`{"type":"subscribe","channel":"build_events"}`))

	frame := decodeFrame(t, conn.lastSent())
	if frame["type"] != MsgSubscriptionConfirmed {
		t.Fatalf("expected subscription_confirmed, got %v", frame["type"])
	}
	if frame["channel"] != "build_events" {
		t.Fatalf("expected channel echo, got %v", frame["channel"])
	}
	if registry.ChannelSubscriberCount("build_events") != 1 {
		t.Fatal("subscription must be registered")
	}

	// Missing channel is a client error.
	hub.HandleMessage(context.Background(), id, []byte(`{"type":"subscribe"}`))
	if frame := decodeFrame(t, conn.lastSent()); frame["type"] != MsgError {
		t.Fatalf("expected error for missing channel, got %v", frame["type"])
	}
}

func TestHub_SubscribeBuildChannelSendsSnapshot(t *testing.T) {
	builds := &fakeStatusSource{jobs: map[string]*model.BuildJob{
		"abc": {ID: "abc", Kind: model.BuildKindImage, Status: model.BuildStatusBuilding},
	}}
	hub, registry := newTestHub(builds)
	conn := &fakeConn{}
	id := registry.Connect(conn)

	hub.HandleMessage(context.Background(), id, []byte(`{"type":"subscribe","channel":"job:abc"}`))

	if conn.sentCount() != 2 {
		t.Fatalf("expected confirmation plus snapshot, got %d frames", conn.sentCount())
	}
	frame := decodeFrame(t, conn.lastSent())
	if frame["type"] != MsgBuildStatus {
		t.Fatalf("expected build_status snapshot, got %v", frame["type"])
	}
	if frame["build_id"] != "abc" {
		t.Fatalf("expected snapshot for abc, got %v", frame["build_id"])
	}
}

func TestHub_SubscribeUnknownBuildChannel(t *testing.T) {
	hub, registry := newTestHub(nil)
	conn := &fakeConn{}
	id := registry.Connect(conn)

	hub.HandleMessage(context.Background(), id, []byte(`{"type":"subscribe","channel":"job:ghost"}`))

	// Subscription still confirmed; the snapshot degrades to an error frame.
	first := decodeFrame(t, conn.sent[0])
	if first["type"] != MsgSubscriptionConfirmed {
		t.Fatalf("expected confirmation first, got %v", first["type"])
	}
	last := decodeFrame(t, conn.lastSent())
	if last["type"] != MsgError {
		t.Fatalf("expected error snapshot for unknown build, got %v", last["type"])
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, registry := newTestHub(nil)
	conn := &fakeConn{}
	id := registry.Connect(conn)
	registry.Subscribe(id, "build_events")

	hub.HandleMessage(context.Background(), id, []byte(`{"type":"unsubscribe","channel":"build_events"}`))

	frame := decodeFrame(t, conn.lastSent())
	if frame["type"] != MsgUnsubscriptionConfirmed {
		t.Fatalf("expected unsubscription_confirmed, got %v", frame["type"])
	}
	if registry.ChannelSubscriberCount("build_events") != 0 {
		t.Fatal("subscription must be removed")
	}
}

func TestHub_GetStatus(t *testing.T) {
	hub, registry := newTestHub(nil)
	conn := &fakeConn{}
	id := registry.Connect(conn)
	registry.Connect(&fakeConn{})
	registry.Subscribe(id, "build_events")

	hub.HandleMessage(context.Background(), id, []byte(`{"type":"get_status"}`))

	frame := decodeFrame(t, conn.lastSent())
	if frame["type"] != MsgStatus {
		t.Fatalf("expected status reply, got %v", frame["type"])
	}
	if frame["connection_id"] != id {
		t.Fatalf("expected own connection id, got %v", frame["connection_id"])
	}
	if frame["total_connections"] != float64(2) {
		t.Fatalf("expected global connection count 2, got %v", frame["total_connections"])
	}
	channels, ok := frame["subscribed_channels"].([]any)
	if !ok || len(channels) != 1 || channels[0] != "build_events" {
		t.Fatalf("expected own subscriptions, got %v", frame["subscribed_channels"])
	}
}

func TestHub_SubscribeSnapshotLookupFailure(t *testing.T) {
	hub, registry := newTestHub(&fakeStatusSource{err: errors.New("redis down")})
	conn := &fakeConn{}
	id := registry.Connect(conn)

	hub.HandleMessage(context.Background(), id, []byte(`{"type":"subscribe","channel":"job:abc"}`))
	if frame := decodeFrame(t, conn.lastSent()); frame["type"] != MsgError {
		t.Fatalf("expected error for failed snapshot lookup, got %v", frame["type"])
	}
}
