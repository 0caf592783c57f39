package handler

import (
	"net/http"
	"strconv"

	"mcpgate/internal/api/middleware"
	"mcpgate/internal/common"
	"mcpgate/internal/dockerx"

	"github.com/go-chi/chi/v5"
)

// DockerHandler exposes read and lifecycle operations on the engine through
// the resilient client.
type DockerHandler struct {
	docker *dockerx.Manager
}

func NewDockerHandler(docker *dockerx.Manager) *DockerHandler {
	return &DockerHandler{docker: docker}
}

func (h *DockerHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/containers", h.listContainers)
	r.Get("/containers/{containerID}", h.getContainer)
	r.Get("/containers/{containerID}/logs", h.containerLogs)
	r.Post("/containers/{containerID}/start", h.startContainer)
	r.Post("/containers/{containerID}/stop", h.stopContainer)
	r.Post("/containers/{containerID}/restart", h.restartContainer)
	r.With(middleware.AdminOnly).Delete("/containers/{containerID}", h.removeContainer)
	r.Get("/images", h.listImages)
	r.With(middleware.AdminOnly).Delete("/images/{imageID}", h.removeImage)
	r.Get("/networks", h.listNetworks)
	r.Get("/volumes", h.listVolumes)
	r.Get("/system", h.systemInfo)
}

func (h *DockerHandler) listContainers(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	containers, err := h.docker.ListContainers(r.Context(), all)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"containers": containers,
		"count":      len(containers),
	})
}

func (h *DockerHandler) getContainer(w http.ResponseWriter, r *http.Request) {
	detail, err := h.docker.GetContainer(r.Context(), chi.URLParam(r, "containerID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, detail)
}

func (h *DockerHandler) containerLogs(w http.ResponseWriter, r *http.Request) {
	tail, _ := strconv.Atoi(r.URL.Query().Get("tail"))
	if tail <= 0 {
		tail = 100
	}

	lines, err := h.docker.StreamContainerLogs(r.Context(), chi.URLParam(r, "containerID"), tail, false)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	collected := make([]string, 0, tail)
	for line := range lines {
		collected = append(collected, line)
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"logs": collected,
	})
}

func (h *DockerHandler) startContainer(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	if err := h.docker.StartContainer(r.Context(), containerID); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "started", "container_id": containerID})
}

func (h *DockerHandler) stopContainer(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	if err := h.docker.StopContainer(r.Context(), containerID, 10); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "stopped", "container_id": containerID})
}

func (h *DockerHandler) restartContainer(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	if err := h.docker.RestartContainer(r.Context(), containerID, 10); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "restarted", "container_id": containerID})
}

func (h *DockerHandler) removeContainer(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	force := r.URL.Query().Get("force") == "true"
	if err := h.docker.RemoveContainer(r.Context(), containerID, force); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "removed", "container_id": containerID})
}

func (h *DockerHandler) listImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.docker.ListImages(r.Context())
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"images": images,
		"count":  len(images),
	})
}

func (h *DockerHandler) removeImage(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "imageID")
	force := r.URL.Query().Get("force") == "true"
	if err := h.docker.RemoveImage(r.Context(), imageID, force); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "removed", "image_id": imageID})
}

func (h *DockerHandler) listNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := h.docker.ListNetworks(r.Context())
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"networks": networks,
		"count":    len(networks),
	})
}

func (h *DockerHandler) listVolumes(w http.ResponseWriter, r *http.Request) {
	volumes, err := h.docker.ListVolumes(r.Context())
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"volumes": volumes,
		"count":   len(volumes),
	})
}

func (h *DockerHandler) systemInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.docker.GetSystemInfo(r.Context())
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, info)
}
