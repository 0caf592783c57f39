package ws

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"mcpgate/internal/domain/model"
)

// BuildStatusSource resolves a build id to its current record. Satisfied by
// the build manager.
type BuildStatusSource interface {
	GetStatus(ctx context.Context, buildID string) (*model.BuildJob, error)
}

// Hub ties the registry, relay and build status lookups together and
// dispatches inbound client messages.
type Hub struct {
	Registry *Registry
	Relay    *Relay
	builds   BuildStatusSource

	jobChannelPrefix string
}

func NewHub(registry *Registry, relay *Relay, builds BuildStatusSource, jobChannelPrefix string) *Hub {
	return &Hub{
		Registry:         registry,
		Relay:            relay,
		builds:           builds,
		jobChannelPrefix: jobChannelPrefix,
	}
}

// HandleMessage processes one inbound frame from a client. Malformed or
// unknown messages are answered with an error frame, never a dropped
// connection.
func (h *Hub) HandleMessage(ctx context.Context, connID string, payload []byte) {
	var msg clientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.Registry.Send(connID, errorMessage("invalid message format"))
		return
	}

	switch msg.Type {
	case MsgSubscribe:
		if msg.Channel == "" {
			h.Registry.Send(connID, errorMessage("channel is required"))
			return
		}
		h.SubscribeConn(ctx, connID, msg.Channel)
	case MsgUnsubscribe:
		if msg.Channel == "" {
			h.Registry.Send(connID, errorMessage("channel is required"))
			return
		}
		h.Registry.Unsubscribe(connID, msg.Channel)
		h.Registry.Send(connID, marshalEnvelope(MsgUnsubscriptionConfirmed, map[string]any{
			"channel": msg.Channel,
		}))
	case MsgPing:
		h.Registry.Send(connID, marshalEnvelope(MsgPong, nil))
	case MsgGetStatus:
		h.Registry.Send(connID, marshalEnvelope(MsgStatus, map[string]any{
			"connection_id":       connID,
			"subscribed_channels": h.Registry.ConnectionChannels(connID),
			"total_connections":   h.Registry.ConnectionCount(),
		}))
	default:
		h.Registry.Send(connID, errorMessage("unknown message type: "+msg.Type))
	}
}

// SubscribeConn subscribes a connection to a channel, confirms it, and for
// build channels sends the current record so late subscribers are not blind
// to events published before they joined.
func (h *Hub) SubscribeConn(ctx context.Context, connID, channel string) {
	if !h.Registry.Subscribe(connID, channel) {
		return
	}
	h.Registry.Send(connID, marshalEnvelope(MsgSubscriptionConfirmed, map[string]any{
		"channel": channel,
	}))

	if strings.HasPrefix(channel, h.jobChannelPrefix) {
		buildID := strings.TrimPrefix(channel, h.jobChannelPrefix)
		h.sendBuildStatus(ctx, connID, buildID)
	}
}

func (h *Hub) sendBuildStatus(ctx context.Context, connID, buildID string) {
	job, err := h.builds.GetStatus(ctx, buildID)
	if err != nil {
		log.Printf("ERROR: Failed to load build %s: %v", buildID, err)
		h.Registry.Send(connID, errorMessage("failed to load build status"))
		return
	}
	if job == nil {
		h.Registry.Send(connID, errorMessage("build not found: "+buildID))
		return
	}
	h.Registry.Send(connID, marshalEnvelope(MsgBuildStatus, map[string]any{
		"build_id": job.ID,
		"build":    job,
	}))
}
