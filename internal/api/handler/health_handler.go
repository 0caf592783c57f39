package handler

import (
	"context"
	"net/http"
	"time"

	"mcpgate/internal/common"
	"mcpgate/internal/dockerx"
	"mcpgate/internal/platform/database"
	"mcpgate/internal/platform/store"
)

// HealthHandler reports liveness of the gateway's dependencies. Docker being
// down degrades the report but does not fail it; builds queue until the
// daemon returns.
type HealthHandler struct {
	redis  *store.RedisStore
	docker *dockerx.Manager
}

func NewHealthHandler(redis *store.RedisStore, docker *dockerx.Manager) *HealthHandler {
	return &HealthHandler{redis: redis, docker: docker}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"database": "ok",
		"redis":    "ok",
		"docker":   "ok",
	}
	healthy := true

	if err := database.DB.PingContext(ctx); err != nil {
		checks["database"] = "unreachable"
		healthy = false
	}
	if err := h.redis.Ping(ctx); err != nil {
		checks["redis"] = "unreachable"
		healthy = false
	}
	if !h.docker.IsConnected(ctx) {
		checks["docker"] = "unreachable"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	common.RespondWithJSON(w, status, map[string]any{
		"status":   overall,
		"checks":   checks,
		"breakers": h.docker.BreakerStates(),
	})
}
