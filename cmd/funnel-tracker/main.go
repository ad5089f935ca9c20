package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/amorlat/funnel-tracking/internal/autotrack"
	"github.com/amorlat/funnel-tracking/internal/config"
	"github.com/amorlat/funnel-tracking/internal/docstore"
	"github.com/amorlat/funnel-tracking/internal/event"
	"github.com/amorlat/funnel-tracking/internal/identity"
	"github.com/amorlat/funnel-tracking/internal/journal"
	"github.com/amorlat/funnel-tracking/internal/remote"
	"github.com/amorlat/funnel-tracking/internal/server"
	"github.com/amorlat/funnel-tracking/internal/storage"
	"github.com/amorlat/funnel-tracking/internal/tracker"
	"github.com/amorlat/funnel-tracking/pkg/kafka"
	"github.com/amorlat/funnel-tracking/pkg/logger"
	"github.com/amorlat/funnel-tracking/pkg/postgres"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Error loading config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Error initializing logger: %v", err))
	}
	defer log.Sync()

	log = log.With(zap.String("service", "funnel-tracker"))
	log.Info("Starting funnel tracker",
		zap.String("environment", cfg.Environment),
		zap.String("listen_addr", cfg.ListenAddr),
	)

	// Tab scope lives with the process; profile scope survives restarts.
	// A broken profile database degrades to memory-only, never a crash.
	tab := storage.NewMemoryStore()
	var profile storage.Store
	sqliteStore, err := storage.NewSQLiteStore(cfg.Storage.ProfilePath)
	if err != nil {
		log.Warn("profile storage unavailable, running memory-only", zap.Error(err))
		profile = storage.NewMemoryStore()
	} else {
		profile = sqliteStore
		defer sqliteStore.Close()
	}

	env := &identity.StaticEnv{
		PagePath:     cfg.Page.Path,
		RawQuery:     cfg.Page.RawQuery,
		PageReferrer: cfg.Page.Referrer,
		UA:           cfg.Page.UserAgent,
		Width:        cfg.Page.ViewportWidth,
		Height:       cfg.Page.ViewportHeight,
	}
	ids := identity.NewProvider(env, tab, profile, logger.WithComponent(log, "identity"))
	factory := event.NewFactory(ids)
	jrnl := journal.New(profile, cfg.Storage.MaxEvents, cfg.Storage.ExportDir,
		logger.WithComponent(log, "journal"))

	var stream remote.StreamPublisher
	var producer *kafka.Producer
	if cfg.StreamEnabled() {
		producer, err = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			Retries:     cfg.Kafka.Retries,
			Timeout:     cfg.Kafka.Timeout,
			Compression: cfg.Kafka.Compression,
		}, logger.WithComponent(log, "kafka"))
		if err != nil {
			log.Warn("stream mirror unavailable", zap.Error(err))
		} else {
			stream = producer
			defer producer.Close()
		}
	}

	client := remote.NewClient(remote.Config{
		DefaultCountry: cfg.Tracking.DefaultCountry,
		Language:       cfg.Tracking.Language,
		QueryLimit:     cfg.Remote.QueryLimit,
	}, stream, logger.WithComponent(log, "remote"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatch := remote.NewDispatcher(0, logger.WithComponent(log, "dispatch"))
	dispatch.Start(ctx)

	// The backend connection is established lazily in the background;
	// until it lands every remote operation no-ops and capture stays
	// local-only.
	var remoteDB atomic.Pointer[postgres.DB]
	if cfg.Remote.Enabled {
		go func() {
			db, err := postgres.Connect(ctx, postgres.Config{
				DSN:             cfg.Remote.DSN(),
				MaxOpenConns:    cfg.Remote.MaxOpenConns,
				MaxIdleConns:    cfg.Remote.MaxIdleConns,
				ConnMaxLifetime: cfg.Remote.ConnMaxLifetime,
			}, logger.WithComponent(log, "postgres"))
			if err != nil {
				log.Warn("remote backend unreachable, running local-only", zap.Error(err))
				return
			}
			store, err := docstore.NewPostgres(ctx, db, logger.WithComponent(log, "docstore"))
			if err != nil {
				log.Warn("remote backend rejected schema, running local-only", zap.Error(err))
				db.Close()
				return
			}
			remoteDB.Store(db)
			client.Attach(store)
		}()
	}

	trk := tracker.New(factory, jrnl, client, dispatch, ids, profile,
		logger.WithComponent(log, "tracker"))
	observer := autotrack.NewObserver(trk, logger.WithComponent(log, "autotrack"))
	srv := server.New(cfg.ListenAddr, trk, observer, logger.WithComponent(log, "server"))

	// Page lifecycle: view on load, exit on unload.
	trk.TrackPageView("")

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("ingest server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	trk.TrackPageExit()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("ingest server shutdown timed out", zap.Error(err))
	}

	// Let queued remote writes drain before the connections go away.
	cancel()
	dispatch.Wait()

	if db := remoteDB.Load(); db != nil {
		db.Close()
	}
	log.Info("Stopped")
}
