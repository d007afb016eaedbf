package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"recall/internal/app"
	"recall/internal/config"
	"recall/internal/httpapi"
	"recall/internal/logging"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, addr string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/recall/config.yaml if not provided)")
	flag.StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config %s: %v", cfgPath, err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.String("config", cfgPath), zap.Error(err))
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(a.Service, httpapi.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: config.Seconds(cfg.Server.RequestTimeoutSecs),
		}, logger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       config.Seconds(cfg.Server.ReadTimeoutSecs),
		WriteTimeout:      config.Seconds(cfg.Server.WriteTimeoutSecs),
		IdleTimeout:       config.Seconds(cfg.Server.IdleTimeoutSecs),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("recalld listening", zap.String("addr", srv.Addr), zap.String("config", cfgPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("close", zap.Error(err))
		os.Exit(1)
	}
}
