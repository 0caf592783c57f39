package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mcpgate/internal/app/build"
	"mcpgate/internal/app/worker"
	"mcpgate/internal/dockerx"
	"mcpgate/internal/platform/config"
	"mcpgate/internal/platform/store"
)

func main() {
	// 1. Load Configuration
	config.Load()
	fmt.Println("Configuration loaded.")

	// 2. Initialize Redis
	redis, err := store.ConnectRedis(config.AppConfig.RedisAddr, config.AppConfig.RedisPassword, config.AppConfig.RedisDB)
	if err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	defer redis.Close()
	fmt.Println("Redis connected.")

	// 3. Initialize Docker client
	dockerManager := dockerx.NewManager(
		config.AppConfig.DockerEndpoint,
		time.Duration(config.AppConfig.DockerTimeoutSeconds)*time.Second,
	)
	fmt.Println("Docker client initialized.")

	// 4. Initialize Build Manager
	buildManager := build.NewManager(
		redis, redis, redis,
		config.AppConfig.BuildQueueName,
		time.Duration(config.AppConfig.BuildTTLSeconds)*time.Second,
	)

	// 5. Run the worker pool until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < config.AppConfig.WorkerCount; i++ {
		g.Go(func() error {
			w := worker.NewBuildWorker(
				redis,
				buildManager,
				dockerManager,
				config.AppConfig.BuildQueueName,
				config.AppConfig.BuildLogWindow,
				time.Duration(config.AppConfig.BuildTimeoutMinutes)*time.Minute,
			)
			w.Start(gctx)
			return nil
		})
	}
	log.Printf("Started %d build workers", config.AppConfig.WorkerCount)

	if err := g.Wait(); err != nil {
		log.Fatalf("Worker pool failed: %v", err)
	}
	log.Println("Workers stopped gracefully.")
}
