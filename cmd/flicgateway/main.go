package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/op/go-logging"
	"github.com/redis/go-redis/v9"

	"openfms/flic/internal/config"
	"openfms/flic/internal/gateway"
	"openfms/flic/internal/logger"
)

var log = logging.MustGetLogger("gateway")

func main() {
	logger.Setup("", logging.INFO)
	log.Info("[Gateway] Starting flic gateway...")

	cfg, err := config.LoadWithFile()
	if err != nil {
		log.Fatalf("[Gateway] Invalid configuration: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.Fatalf("[Gateway] Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Info("[Gateway] Connected to Redis")

	// Connect to NATS
	natsConn, err := nats.Connect(cfg.NATSURL,
		nats.Name("flicgateway-"+cfg.GatewayID),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		log.Fatalf("[Gateway] Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()
	log.Info("[Gateway] Connected to NATS")

	gw := gateway.New(cfg, natsConn, gateway.NewRedisShadow(redisClient, cfg.GatewayID, cfg.ShadowTTL))

	sub, err := gw.StartDownlink(natsConn)
	if err != nil {
		log.Fatalf("[Gateway] Failed to subscribe to downlink: %v", err)
	}
	defer sub.Unsubscribe()

	if cfg.ConfigFile != "" {
		watcher, err := config.NewWatcher(cfg.ConfigFile)
		if err != nil {
			log.Fatalf("[Gateway] Failed to watch %s: %v", cfg.ConfigFile, err)
		}
		watcher.OnChange(func(f *config.File) {
			log.Infof("[Gateway] Button allow-list reloaded: %d entries", len(f.Buttons.Allow))
			gw.SetButtons(f.Buttons)
		})
		if err := watcher.Start(); err != nil {
			log.Fatalf("[Gateway] %v", err)
		}
		defer watcher.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := gw.ServeHTTP(ctx); err != nil {
			log.Errorf("[Gateway] HTTP server: %v", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		log.Infof("[Gateway] Bridging flicd at %s:%d as %s", cfg.FlicdHost, cfg.FlicdPort, cfg.GatewayID)
		gw.Run(ctx)
	}()

	<-ctx.Done()
	log.Info("[Gateway] Shutting down...")
	wg.Wait()
	if err := natsConn.Drain(); err != nil {
		log.Warningf("[Gateway] NATS drain: %v", err)
	}
	log.Info("[Gateway] Stopped")
}
