package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/internal/feed"
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

	sim := feed.NewServer(feed.Options{
		Key:      cfg.Upstream.Key,
		Interval: cfg.Feedsim.Interval,
		Logger:   logger,
	})

	srv := &http.Server{Addr: cfg.Feedsim.Addr, Handler: sim.Handler()}

	go func() {
		logger.Info("Feed Simulator Started",
			zap.String("addr", cfg.Feedsim.Addr),
			zap.Duration("interval", cfg.Feedsim.Interval))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	logger.Info("Shutdown Complete")
}
