package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"routined/internal/api"
	"routined/internal/cache"
	"routined/internal/config"
	"routined/internal/generator"
	"routined/internal/graph"
	"routined/internal/ingest"
	"routined/internal/logging"
	"routined/internal/model"
	"routined/internal/storage"
	"routined/internal/syncer"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "routined.yaml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.Get().LogLevel)
	logger.Info("routined starting", "version", version, "config", cfg.Path())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewStore(cfg.Get().Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	c := cache.New(cfg.Get().Cache, logging.Stage(logger, "cache"))
	defer c.Close()

	resolver := graph.NewResolver()

	syn, err := syncer.New(cfg, resolver, logging.Stage(logger, "sync"))
	if err != nil {
		logger.Error("syncer init failed", "err", err)
		os.Exit(1)
	}
	go syn.Run(ctx)

	events := make(chan model.RawEvent, cfg.Get().Ingest.ChannelBuffer)
	ingest.StartKafka(ctx, cfg, store, events, logging.Stage(logger, "ingest"))

	gen := generator.New(cfg, store, c, syn, resolver, events, logging.Stage(logger, "generator"))
	go gen.Run(ctx)

	api.Start(ctx, cfg, gen, syn, c, logging.Stage(logger, "api"), version)

	stop := make(chan struct{})
	go cfg.Watch(30*time.Second, func(next *config.Config) {
		logger.Info("configuration reloaded", "log_level", next.LogLevel)
	}, func(err error) {
		logger.Warn("configuration reload failed", "err", err)
	}, stop)

	<-ctx.Done()
	close(stop)
	logger.Info("routined stopped")
}
