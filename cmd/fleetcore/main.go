package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetcore/config"
	"fleetcore/engine"
	"fleetcore/messaging"
	"fleetcore/statecache"
	"fleetcore/store"
	"fleetcore/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "fleetcore.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("fleetcore", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("fleetcore: database open (%s)", cfg.Database.Driver)

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var redisStore *statecache.RedisStore
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("fleetcore: redis not available (%v), running without cache", err)
	} else {
		log.Printf("fleetcore: redis connected (%s)", cfg.Redis.Address)
		redisStore = statecache.NewRedisStore(redisClient, cfg.Redis.CacheTTL.Std())
	}
	cancel()
	defer redisClient.Close()

	// Status cache
	cache := statecache.NewManager(db, redisStore)
	cache.SyncFromSQL()

	// Messaging client
	msgClient := messaging.NewClient(&cfg.Messaging)
	if err := msgClient.Connect(); err != nil {
		log.Printf("fleetcore: messaging connect failed (%v)", err)
	} else if cfg.Messaging.Backend != "none" {
		log.Printf("fleetcore: messaging connected (%s)", cfg.Messaging.Backend)
	}
	defer msgClient.Close()

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		Cache:      cache,
		MsgClient:  msgClient,
	})
	eng.Start()
	defer eng.Stop()

	// Outbox drainer (outbound to the notification layer)
	drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval)
	drainer.Start()
	defer drainer.Stop()

	// Web server
	handler := www.NewRouter(eng)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Printf("fleetcore: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("fleetcore: ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("fleetcore: shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Printf("fleetcore: stopped")
}
