package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"miovo-bridge/cmd"
	"miovo-bridge/internal/api"
	"miovo-bridge/internal/backend"
	"miovo-bridge/internal/config"
	"miovo-bridge/internal/database"
	"miovo-bridge/internal/metrics"
	"miovo-bridge/internal/relay"
	"miovo-bridge/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig(cmd.EnvFileFlag())
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	f, err := cmd.SetupLogFile(cfg.StorageRoot, "bridge.log")
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	slog.Info("starting bridge",
		"port", cfg.Port,
		"version", cfg.Version,
		"synthesis_url", cfg.SynthesisURL,
		"conversion_url", cfg.ConversionURL,
		"storage_root", cfg.StorageRoot,
	)

	db, err := database.NewDatabase(cfg.DatabaseFile())
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}

	store, err := storage.NewLocalProvider(cfg.StorageRoot)
	if err != nil {
		log.Fatalf("error creating storage: %v", err)
	}

	m := metrics.NewMetrics()

	synthesis := backend.NewSynthesisGateway(cfg.SynthesisURL, cfg.BackendTimeout, cfg.PassthroughTimeout, m)
	conversion := backend.NewConversionGateway(cfg.ConversionURL, cfg.BackendTimeout, db, store, cfg.UploadProcessingDelay, m)
	runner := backend.NewTrainingRunner(db, store, backend.TrainingOptions{
		Tick:               cfg.TrainingTick,
		EpochStep:          cfg.TrainingEpochStep,
		StrictTrainingData: cfg.StrictTrainingData,
	}, m)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	registry := relay.NewRegistry(m)
	router := relay.NewRouter(baseCtx, synthesis, conversion, runner, m)

	broadcaster := relay.NewBroadcaster(registry, backend.NewProber(cfg.ProbeTimeout), relay.BroadcasterConfig{
		Interval:        cfg.StatusInterval,
		SynthesisProbe:  relay.ProbeURL(cfg.SynthesisURL, cfg.SynthesisProbePath),
		ConversionProbe: relay.ProbeURL(cfg.ConversionURL, cfg.ConversionProbePath),
	})
	hub := relay.NewHub(registry, router, broadcaster, cfg.AllowedOrigins, m)

	service := api.NewBridgeService(hub, broadcaster, m, api.BridgeInfo{
		Version:       cfg.Version,
		SynthesisURL:  cfg.SynthesisURL,
		ConversionURL: cfg.ConversionURL,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.NewRouter(service, cfg.AllowedOrigins),
	}

	if err := broadcaster.Start(); err != nil {
		log.Fatalf("error starting status broadcaster: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hub.Shutdown(ctx)

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}

		slog.Info("stopping training jobs", "active", runner.ActiveJobs())
		runner.Shutdown()

		cancelBase()
		router.Wait()

		if err := conversion.ReleaseUploads(ctx); err != nil {
			slog.Warn("error releasing uploaded training data", "error", err)
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("could not listen on %d: %v", cfg.Port, err)
	}

	<-stopped
	slog.Info("server stopped")
}
