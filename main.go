// vidcompose/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"vidcompose/api"
	"vidcompose/config"
	"vidcompose/ffmpeg"
	"vidcompose/task"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize the composer first; it fails fast on a missing ffmpeg
	// binary or background audio asset.
	composer, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize composer: %v", err)
	}

	// 3. Task record store and scheduler
	store := task.NewStore()
	mgr := task.NewManager(cfg, store, composer)

	// 4. Set up router and server
	router := api.SetupRouter(mgr, cfg, composer)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 5. Start the worker pool and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr.Start(ctx)

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	// Let workers finish the jobs they already picked up.
	log.Println("Waiting for in-flight jobs to finish")
	mgr.Wait()

	log.Println("Server exiting")
}
