package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"mcpgate/internal/common"
	"mcpgate/internal/dockerx"
)

// SystemInfoSource supplies the snapshot sent on system socket connect.
type SystemInfoSource interface {
	GetSystemInfo(ctx context.Context) (*dockerx.SystemInfo, error)
}

// Handler owns the websocket HTTP endpoints.
type Handler struct {
	hub    *Hub
	docker SystemInfoSource
}

func NewHandler(hub *Hub, docker SystemInfoSource) *Handler {
	return &Handler{hub: hub, docker: docker}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.Serve)
	r.Get("/ws/builds/{buildID}", h.ServeBuild)
	r.Get("/ws/system", h.ServeSystem)
	r.Get("/ws/stats", h.Stats)
	r.Post("/ws/broadcast", h.Broadcast)
}

// Serve upgrades the request and runs the read loop with no initial
// subscriptions; clients subscribe explicitly.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, nil)
}

// ServeBuild upgrades the request already subscribed to the build's event
// channel. The snapshot sent on subscribe covers anything missed before the
// socket opened.
func (h *Handler) ServeBuild(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	h.serve(w, r, func(ctx context.Context, connID string) {
		h.hub.SubscribeConn(ctx, connID, h.hub.jobChannelPrefix+buildID)
	})
}

// ServeSystem upgrades the request subscribed to the system channels and
// sends a current engine snapshot.
func (h *Handler) ServeSystem(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(ctx context.Context, connID string) {
		h.hub.SubscribeConn(ctx, connID, "system_events")
		h.hub.SubscribeConn(ctx, connID, "health_alerts")
		if h.docker == nil {
			return
		}
		info, err := h.docker.GetSystemInfo(ctx)
		if err != nil {
			log.Printf("WARN: Failed to fetch system info for %s: %v", connID, err)
			return
		}
		h.hub.Registry.Send(connID, marshalEnvelope(MsgStatus, map[string]any{
			"system": info,
		}))
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, onConnect func(ctx context.Context, connID string)) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ERROR: Websocket upgrade failed: %v", err)
		return
	}

	connID := h.hub.Registry.Connect(newSocketConn(conn))
	defer h.hub.Registry.Disconnect(connID)

	ctx := context.Background()
	if onConnect != nil {
		onConnect(ctx, connID)
	}

	for {
		payload, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		h.hub.HandleMessage(ctx, connID, payload)
	}
}

// Stats reports connection and per-channel subscriber counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	total, channels := h.hub.Registry.Stats()
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"total_connections": total,
		"channels":          channels,
	})
}

type broadcastRequest struct {
	Channel string          `json:"channel"`
	Message json.RawMessage `json:"message"`
}

// Broadcast publishes an arbitrary message to a channel through the relay.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel == "" || len(req.Message) == 0 {
		common.RespondWithError(w, http.StatusBadRequest, "channel and message are required")
		return
	}

	if err := h.hub.Relay.Publish(r.Context(), req.Channel, req.Message); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), "failed to publish message")
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"status":  "sent",
		"channel": req.Channel,
	})
}
