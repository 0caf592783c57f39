package api

import (
	"net/http"
	"time"

	"mcpgate/internal/api/handler"
	"mcpgate/internal/app/build"
	"mcpgate/internal/app/service"
	"mcpgate/internal/common/security"
	"mcpgate/internal/dockerx"
	"mcpgate/internal/platform/config"
	"mcpgate/internal/platform/store"
	"mcpgate/internal/ws"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
)

func NewRouter(
	authService *service.AuthService,
	projectService *service.ProjectService,
	buildManager *build.Manager,
	dockerManager *dockerx.Manager,
	redis *store.RedisStore,
	wsHandler *ws.Handler,
) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AppConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Verifies token, puts claims in context. Authentication is enforced
	// per route group, not here.
	r.Use(jwtauth.Verifier(security.TokenAuth))

	healthHandler := handler.NewHealthHandler(redis, dockerManager)
	r.Get("/health", healthHandler.Health)

	// Websocket endpoints stay outside the request timeout; their
	// connections are long-lived.
	wsHandler.RegisterRoutes(r)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(chiMiddleware.Timeout(60 * time.Second))

		authHandler := handler.NewAuthHandler(authService)
		v1.Group(func(publicAuth chi.Router) {
			authHandler.RegisterRoutes(publicAuth)
		})

		buildHandler := handler.NewBuildHandler(buildManager)
		v1.Route("/builds", buildHandler.RegisterRoutes)

		projectHandler := handler.NewProjectHandler(projectService)
		v1.Route("/projects", projectHandler.RegisterRoutes)

		dockerHandler := handler.NewDockerHandler(dockerManager)
		v1.Route("/docker", dockerHandler.RegisterRoutes)
	})

	return r
}
