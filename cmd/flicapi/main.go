package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/op/go-logging"
	"github.com/redis/go-redis/v9"

	"openfms/flic/internal/config"
	"openfms/flic/internal/logger"
	"openfms/flic/internal/server"
	"openfms/flic/internal/store"
)

var log = logging.MustGetLogger("api")

func main() {
	logger.Setup("", logging.INFO)
	log.Info("[API] Starting flic API server...")

	cfg := config.Load()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("[API] Failed to migrate database: %v", err)
	}
	log.Info("[API] Database migrated")

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[API] Failed to connect to database: %v", err)
	}
	log.Info("[API] Connected to database")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.Fatalf("[API] Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Info("[API] Connected to Redis")

	// Connect to NATS
	natsConn, err := nats.Connect(cfg.NATSURL, nats.Name("flicapi"), nats.MaxReconnects(-1))
	if err != nil {
		log.Fatalf("[API] Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()
	log.Info("[API] Connected to NATS")

	srv := server.NewServer(cfg, db, redisClient, natsConn)
	if err := srv.Setup(); err != nil {
		log.Fatalf("[API] Failed to set up server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Run(cfg.APIPort); err != nil {
			log.Errorf("[API] Server error: %v", err)
			stop()
		}
	}()
	log.Infof("[API] Server ready on :%d", cfg.APIPort)

	<-ctx.Done()
	log.Info("[API] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	log.Info("[API] Server stopped")
}
