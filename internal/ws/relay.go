package ws

import (
	"context"
	"log"
	"sync"

	"mcpgate/internal/platform/store"
)

// Channels every gateway instance relays regardless of local subscribers.
var fixedChannels = []string{
	"build_events",
	"container_events",
	"system_events",
	"health_alerts",
}

// Relay bridges bus channels to the local connection registry so events
// published by any process reach every process's sockets. Each relayed
// channel gets one bus subscription that lives for the process lifetime.
type Relay struct {
	bus      store.Bus
	registry *Registry

	mu     sync.Mutex
	active map[string]struct{}
	ctx    context.Context
}

func NewRelay(bus store.Bus, registry *Registry) *Relay {
	return &Relay{
		bus:      bus,
		registry: registry,
		active:   make(map[string]struct{}),
	}
}

// Start opens the fixed channels and wires the registry's subscribe hook so
// dynamic channels begin relaying on first local subscription.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	for _, channel := range fixedChannels {
		r.EnsureChannel(channel)
	}
	r.registry.SetSubscribeHook(r.EnsureChannel)
}

// EnsureChannel starts relaying a channel if it is not already active.
func (r *Relay) EnsureChannel(channel string) {
	r.mu.Lock()
	if _, ok := r.active[channel]; ok {
		r.mu.Unlock()
		return
	}
	r.active[channel] = struct{}{}
	ctx := r.ctx
	r.mu.Unlock()

	messages, err := r.bus.Subscribe(ctx, channel)
	if err != nil {
		log.Printf("ERROR: Failed to subscribe to channel %s: %v", channel, err)
		r.mu.Lock()
		delete(r.active, channel)
		r.mu.Unlock()
		return
	}

	go func() {
		for payload := range messages {
			r.registry.Broadcast(channel, payload)
		}
		log.Printf("WARN: Relay for channel %s stopped", channel)
	}()
	log.Printf("INFO: Relaying channel %s", channel)
}

// Publish delivers a message to the channel's local subscribers and to the
// bus for other processes. Relayed channels skip the local write so bus
// delivery does not duplicate it.
func (r *Relay) Publish(ctx context.Context, channel string, payload []byte) error {
	r.mu.Lock()
	_, relayed := r.active[channel]
	r.mu.Unlock()

	if !relayed {
		r.registry.Broadcast(channel, payload)
	}
	return r.bus.Publish(ctx, channel, payload)
}
