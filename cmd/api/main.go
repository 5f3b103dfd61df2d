// Command api runs the HTTP directory surface: document CRUD,
// collaborator management and version history/revert, grounded on the
// teacher's cmd/api/main.go. It uses the same Postgres database and Redis
// server as cmd/syncserver's websocket process, through its own connections,
// and runs as a separate listener, matching the teacher's two-process split.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/syncdocs/backend/internal/api"
	"github.com/syncdocs/backend/internal/db"
	"github.com/syncdocs/backend/internal/logger"
	"github.com/syncdocs/backend/internal/redisbus"
	"github.com/syncdocs/backend/internal/shadow"
	"github.com/syncdocs/backend/internal/version"
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
	snapshotter := version.New(database, shadows, bus, "api")

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-User-ID", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := api.NewHandler(database, snapshotter)
	handler.RegisterRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		logger.Info("API server starting on port %s", port)
		if err := r.Run(":" + port); err != nil {
			logger.Fatal("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down API server...")
	cancel()
}
