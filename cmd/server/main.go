package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcpgate/internal/api"
	"mcpgate/internal/app/build"
	"mcpgate/internal/app/service"
	"mcpgate/internal/common/security"
	"mcpgate/internal/dockerx"
	"mcpgate/internal/domain/repository"
	"mcpgate/internal/platform/config"
	"mcpgate/internal/platform/database"
	"mcpgate/internal/platform/store"
	"mcpgate/internal/ws"
)

func main() {
	// 1. Load Configuration
	config.Load()
	fmt.Println("Configuration loaded.")

	// 2. Initialize JWT
	security.InitJWT()
	fmt.Println("JWT initialized.")

	// 3. Initialize Database
	database.Connect()
	defer database.Close()
	fmt.Println("Database connected.")

	// 4. Initialize Redis
	redis, err := store.ConnectRedis(config.AppConfig.RedisAddr, config.AppConfig.RedisPassword, config.AppConfig.RedisDB)
	if err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	defer redis.Close()
	fmt.Println("Redis connected.")

	// 5. Initialize Docker client
	dockerManager := dockerx.NewManager(
		config.AppConfig.DockerEndpoint,
		time.Duration(config.AppConfig.DockerTimeoutSeconds)*time.Second,
	)
	fmt.Println("Docker client initialized.")

	// 6. Initialize Repositories
	userRepo := repository.NewPgUserRepository(database.DB)
	projectRepo := repository.NewPgProjectRepository(database.DB)

	// 7. Initialize Build Manager & Services
	buildManager := build.NewManager(
		redis, redis, redis,
		config.AppConfig.BuildQueueName,
		time.Duration(config.AppConfig.BuildTTLSeconds)*time.Second,
	)
	authService := service.NewAuthService(userRepo)
	projectService := service.NewProjectService(projectRepo, buildManager)

	// 8. Initialize Websocket Layer
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()

	registry := ws.NewRegistry()
	relay := ws.NewRelay(redis, registry)
	relay.Start(relayCtx)
	hub := ws.NewHub(registry, relay, buildManager, build.JobChannelPrefix)
	wsHandler := ws.NewHandler(hub, dockerManager)
	fmt.Println("Websocket relay started.")

	// 9. Initialize Router & HTTP Server
	router := api.NewRouter(authService, projectService, buildManager, dockerManager, redis, wsHandler)

	server := &http.Server{
		Addr:        ":" + config.AppConfig.APIPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", config.AppConfig.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", config.AppConfig.APIPort, err)
		}
	}()
	log.Println("Server started successfully.")

	<-stop // Wait for interrupt signal

	log.Println("Shutting down server...")
	relayCancel() // Stop bus subscriptions

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server stopped gracefully.")
}
