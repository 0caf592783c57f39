package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"mcpgate/internal/api/middleware"
	"mcpgate/internal/app/build"
	"mcpgate/internal/common"
	"mcpgate/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type BuildHandler struct {
	manager *build.Manager
}

func NewBuildHandler(manager *build.Manager) *BuildHandler {
	return &BuildHandler{manager: manager}
}

func (h *BuildHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Post("/image", h.startImageBuild)
	r.Get("/", h.listBuilds)
	r.Get("/queue/status", h.queueStatus)
	r.Get("/{buildID}", h.getBuild)
	r.Get("/{buildID}/logs", h.getBuildLogs)
	r.Post("/{buildID}/cancel", h.cancelBuild)
	r.Post("/{buildID}/retry", h.retryBuild)
	r.With(middleware.AdminOnly).Post("/cleanup", h.cleanup)
}

func (h *BuildHandler) startImageBuild(w http.ResponseWriter, r *http.Request) {
	var req model.ImageBuildPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if req.ContextPath == "" || req.ImageTag == "" {
		common.RespondWithError(w, http.StatusBadRequest, "context_path and image_tag are required")
		return
	}

	buildID, err := h.manager.StartImageBuild(r.Context(), req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	// 202: the build runs asynchronously on the worker pool
	common.RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"build_id": buildID,
		"status":   model.BuildStatusPending,
	})
}

func (h *BuildHandler) listBuilds(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	builds, err := h.manager.List(r.Context(), statusFilter, limit)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"builds": builds,
		"count":  len(builds),
	})
}

func (h *BuildHandler) getBuild(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	job, err := h.manager.GetStatus(r.Context(), buildID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	if job == nil {
		common.RespondWithError(w, http.StatusNotFound, "Build not found: "+buildID)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}

func (h *BuildHandler) getBuildLogs(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	logs, err := h.manager.GetLogs(r.Context(), buildID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	if logs == nil {
		common.RespondWithError(w, http.StatusNotFound, "Build not found: "+buildID)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"build_id": buildID,
		"logs":     logs,
	})
}

func (h *BuildHandler) cancelBuild(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	cancelled, err := h.manager.Cancel(r.Context(), buildID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	if !cancelled {
		common.RespondWithError(w, http.StatusConflict, "Build cannot be cancelled (unknown or already finished)")
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{
		"build_id": buildID,
		"status":   "cancelled",
	})
}

func (h *BuildHandler) retryBuild(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	newID, err := h.manager.Retry(r.Context(), buildID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	if newID == "" {
		common.RespondWithError(w, http.StatusConflict, "Only failed builds can be retried")
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"original_build_id": buildID,
		"build_id":          newID,
		"status":            model.BuildStatusPending,
	})
}

func (h *BuildHandler) queueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.QueueStatus(r.Context())
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, status)
}

func (h *BuildHandler) cleanup(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("older_than_days"))
	if days <= 0 {
		days = 7
	}

	removed, err := h.manager.Cleanup(r.Context(), days)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"removed":         removed,
		"older_than_days": days,
	})
}
