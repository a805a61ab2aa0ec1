package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tendant/entity-index/pkg/entityindex/api"
	"github.com/tendant/entity-index/pkg/entityindex/config"
)

type Config struct {
	Port             string `env:"PORT" env-default:"8080"`
	Environment      string `env:"ENVIRONMENT" env-default:"development"`
	ElasticsearchURL string `env:"ELASTICSEARCH_URL" env-default:""`
	IndexPrefix      string `env:"INDEX_PREFIX" env-default:""`
	DatabaseURL      string `env:"DATABASE_URL" env-default:""`
}

func main() {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	opts := []config.Option{config.WithPort(cfg.Port)}
	if cfg.ElasticsearchURL != "" {
		opts = append(opts, config.WithElasticStore(strings.Split(cfg.ElasticsearchURL, ","), cfg.IndexPrefix))
	}
	if cfg.DatabaseURL != "" {
		opts = append(opts, config.WithPostgresMetadata(cfg.DatabaseURL))
	}

	serverCfg, err := config.Load(opts...)
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	svc, err := serverCfg.BuildService(ctx)
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	logger := slog.Default()
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Mount("/api/v1/entities", api.NewEntityHandler(svc, logger).Routes())

	addr := ":" + serverCfg.Port
	slog.Info("Starting entity-index server", "addr", addr, "store", serverCfg.StoreType, "metadata", serverCfg.MetadataType)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("Server failed", "err", err)
		os.Exit(1)
	}
}
