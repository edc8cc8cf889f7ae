package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"example.com/deskactivity/internal/api"
	"example.com/deskactivity/internal/auth"
	"example.com/deskactivity/internal/config"
	"example.com/deskactivity/internal/observability"
	"example.com/deskactivity/internal/persistence"
	httptransport "example.com/deskactivity/internal/transport/http"
)

func main() {
	cfg, err := config.Load(pflag.NewFlagSet("api", pflag.ExitOnError), os.Args[1:])
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := log.New(os.Stderr, "[api] ", log.LstdFlags|log.Lshortfile)
	observability.RecordComponent("api")

	if cfg.JWTSecret == "" {
		logger.Fatalf("JWT_SECRET must be set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := persistence.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatalf("prepare store: %v", err)
	}

	handler := api.NewHandler(store, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address: cfg.HTTPAddress,
	}, httptransport.Logging(logger, authMiddleware.Wrap(mux)))

	if err := httptransport.Serve(ctx, server, 0, logger); err != nil {
		logger.Printf("server error: %v", err)
		os.Exit(1)
	}
}
