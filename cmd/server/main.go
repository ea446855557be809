package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/consumer"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/hub"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/queue"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/repository"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/server"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/upstream"
	"github.com/Frida7771/yahoo-finance-agent/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	// Background tasks live for the process lifetime and stop on signal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Durability is best-effort: an unreachable queue backend degrades to
	// direct broadcast instead of failing the process.
	queueOK := cfg.Queue.Enabled
	if queueOK {
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("queue backend unreachable, falling back to direct broadcast", zap.Error(err))
			queueOK = false
		}
	}

	var snapshots repository.SnapshotStore
	if queueOK {
		snapshots = repository.NewRedisStore(rdb)
	} else {
		snapshots = repository.NewNoopStore()
	}

	wsHub := hub.NewHub(snapshots, logger)

	var stream queue.Stream
	if queueOK {
		stream = queue.NewRedisStream(rdb, cfg.Queue.Stream, cfg.Queue.MaxLen)
	}

	reader := upstream.NewReader(cfg.Upstream, upstream.NewDialer(), stream, wsHub, wsHub, logger)
	wsHub.SetFeed(reader)

	var cons *consumer.Consumer
	if queueOK {
		cons = consumer.New(stream, cfg.Queue.Group, wsHub, snapshots, logger)
	}

	// Explicit lifecycle: reader and consumer start at boot, not lazily
	// from request handlers.
	reader.Start(ctx)
	if cons != nil {
		go func() {
			if err := cons.Run(ctx); err != nil {
				logger.Error("queue consumer exited", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:    cfg.App.Port,
		Handler: server.New(wsHub, reader, cons, nil, queueOK, logger).Routes(),
	}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	rdb.Close()
	logger.Info("Shutdown Complete")
}
