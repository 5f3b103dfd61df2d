// Command syncserver runs the websocket collaboration server: the room
// registry, sync engine, presence tracker and offline buffer wired together
// behind one HTTP listener. The version snapshotter is wired in cmd/api
// instead. Grounded on the teacher's cmd/collab/main.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/syncdocs/backend/internal/db"
	"github.com/syncdocs/backend/internal/logger"
	"github.com/syncdocs/backend/internal/offline"
	"github.com/syncdocs/backend/internal/presence"
	"github.com/syncdocs/backend/internal/redisbus"
	"github.com/syncdocs/backend/internal/room"
	"github.com/syncdocs/backend/internal/shadow"
	"github.com/syncdocs/backend/internal/syncengine"
	"github.com/syncdocs/backend/internal/ws"
)

func main() {
	godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx)
	if err != nil {
		logger.Fatal("failed to connect to database: %v", err)
	}
	defer database.Close()

	bus, err := redisbus.New(ctx)
	if err != nil {
		logger.Fatal("failed to connect to redis: %v", err)
	}
	defer bus.Close()

	shadows := shadow.New(database)
	registry := room.NewRegistry(ctx, bus)
	defer registry.CloseAll()

	engine := syncengine.New(database, shadows, registry)
	offlineBuffer := offline.New(bus, database, shadows, registry)
	tracker := presence.New(database, registry, offlineBuffer)

	server := ws.New(database, engine, tracker, offlineBuffer)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/collab/", server.HandleWebSocket)

	handler := corsMiddleware(mux)

	port := os.Getenv("SYNC_PORT")
	if port == "" {
		port = "8081"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("sync server starting on port %s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down sync server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed: %v", err)
	}

	cancel()
	logger.Info("sync server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
