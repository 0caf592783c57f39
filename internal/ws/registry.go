package ws

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks this process's live connections and their channel
// subscriptions. It is strictly process-local; cross-process delivery goes
// through the bus relay. One mutex guards both indexes so they can never
// present inconsistent views.
type Registry struct {
	mu sync.Mutex
	// connection id → connection
	conns map[string]Conn
	// connection id → subscribed channels
	subscriptions map[string]map[string]struct{}
	// channel → subscriber connection ids
	channels map[string]map[string]struct{}

	// onSubscribe is invoked (outside the lock) the first time any local
	// connection subscribes to a channel, so the relay can start listening.
	onSubscribe func(channel string)
}

func NewRegistry() *Registry {
	return &Registry{
		conns:         make(map[string]Conn),
		subscriptions: make(map[string]map[string]struct{}),
		channels:      make(map[string]map[string]struct{}),
	}
}

// SetSubscribeHook installs the relay-activation callback. Must be called
// before the registry starts accepting connections.
func (r *Registry) SetSubscribeHook(hook func(channel string)) {
	r.onSubscribe = hook
}

// Connect registers a connection and returns its id.
func (r *Registry) Connect(conn Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = conn
	r.subscriptions[id] = make(map[string]struct{})
	r.mu.Unlock()
	log.Printf("INFO: Connection %s established", id)
	return id
}

// Disconnect removes a connection from every channel's subscriber set and
// drops it. It is idempotent.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		for channel := range r.subscriptions[id] {
			r.removeFromChannelLocked(channel, id)
		}
		delete(r.conns, id)
		delete(r.subscriptions, id)
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
		log.Printf("INFO: Connection %s disconnected", id)
	}
}

// Subscribe adds the connection to a channel. It returns false for unknown
// connections.
func (r *Registry) Subscribe(id, channel string) bool {
	r.mu.Lock()
	subs, ok := r.subscriptions[id]
	var first bool
	if ok {
		subs[channel] = struct{}{}
		if _, exists := r.channels[channel]; !exists {
			r.channels[channel] = make(map[string]struct{})
			first = true
		}
		r.channels[channel][id] = struct{}{}
	}
	r.mu.Unlock()

	if ok && first && r.onSubscribe != nil {
		r.onSubscribe(channel)
	}
	return ok
}

// Unsubscribe removes the connection from a channel; empty channels vanish
// from the index.
func (r *Registry) Unsubscribe(id, channel string) {
	r.mu.Lock()
	if subs, ok := r.subscriptions[id]; ok {
		delete(subs, channel)
	}
	r.removeFromChannelLocked(channel, id)
	r.mu.Unlock()
}

func (r *Registry) removeFromChannelLocked(channel, id string) {
	if members, ok := r.channels[channel]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
}

// Send delivers a message to one connection. A failed write drops the
// connection and returns false.
func (r *Registry) Send(id string, payload []byte) bool {
	r.mu.Lock()
	conn, ok := r.conns[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := conn.Send(payload); err != nil {
		log.Printf("ERROR: Error sending message to %s: %v", id, err)
		r.Disconnect(id)
		return false
	}
	return true
}

// Broadcast fans a message out to the channel's current subscribers and
// returns how many received it. Connections whose send fails are dropped
// and excluded from the count.
func (r *Registry) Broadcast(channel string, payload []byte) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.channels[channel]))
	for id := range r.channels[channel] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sent := 0
	for _, id := range ids {
		if r.Send(id, payload) {
			sent++
		}
	}
	return sent
}

// BroadcastAll sends a message to every connection.
func (r *Registry) BroadcastAll(payload []byte) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sent := 0
	for _, id := range ids {
		if r.Send(id, payload) {
			sent++
		}
	}
	return sent
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ChannelSubscriberCount returns the channel's subscriber count.
func (r *Registry) ChannelSubscriberCount(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[channel])
}

// ConnectionChannels returns the channels a connection is subscribed to.
func (r *Registry) ConnectionChannels(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels := make([]string, 0, len(r.subscriptions[id]))
	for channel := range r.subscriptions[id] {
		channels = append(channels, channel)
	}
	return channels
}

// Stats returns per-channel subscriber counts plus the connection total.
func (r *Registry) Stats() (total int, channels map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels = make(map[string]int, len(r.channels))
	for channel, members := range r.channels {
		channels[channel] = len(members)
	}
	return len(r.conns), channels
}
