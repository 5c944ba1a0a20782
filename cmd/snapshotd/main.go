package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/cartridge/paddle/internal/config"
	"github.com/cartridge/paddle/internal/events"
	"github.com/cartridge/paddle/internal/grpcapi"
	"github.com/cartridge/paddle/internal/health"
	httpServer "github.com/cartridge/paddle/internal/http"
	"github.com/cartridge/paddle/internal/metrics"
	"github.com/cartridge/paddle/internal/service"
	"github.com/cartridge/paddle/internal/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "snapshotd").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open snapshot store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing snapshot store")
		}
	}()

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("failed to connect to NATS")
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg, logger)

	snapshots := service.NewSnapshots(store, publisher, collector, &logger)
	monitor := health.NewMonitor(snapshots, publisher, collector, health.Config{
		CheckInterval: cfg.Health.CheckInterval,
		StaleAfter:    cfg.Health.StaleAfter,
	}, logger)

	h := httpServer.NewServer(snapshots, &logger, httpServer.Options{
		BodyLimit:      cfg.Server.BodyLimitBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		Metrics:        collector,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Health:         monitor,
	})
	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr(),
		Handler:           h.Routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		monitor.Start(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("backend", cfg.Store.Backend).Msg("snapshot HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})

	if addr := cfg.Server.GRPCAddr(); addr != "" {
		gs := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.UnaryLogger(logger)))
		hs := grpcapi.Register(gs, snapshots)

		lis, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", addr).Msg("failed to listen for gRPC")
		}
		g.Go(func() error {
			logger.Info().Str("addr", lis.Addr().String()).Msg("snapshot gRPC server starting")
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hs.Shutdown()
			stopGRPC(gs, cfg.Server.ShutdownTimeout, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("snapshot service failed")
		os.Exit(1)
	}
	logger.Info().Msg("snapshot service stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (storage.SnapshotStore, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return storage.NewMemoryStore(cfg.Store.MaxSnapshots), nil
	case config.StorePostgres:
		db, err := storage.OpenPostgres(ctx, cfg.Database.ConnectionString())
		if err != nil {
			return nil, err
		}
		store := storage.NewPostgresStore(db, cfg.Store.MaxSnapshots)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return storage.NewFileStore(cfg.Store.SnapshotFile, cfg.Store.MaxSnapshots, logger)
	}
}

// stopGRPC drains in-flight calls and forces the stop after timeout.
func stopGRPC(gs *grpc.Server, timeout time.Duration, logger zerolog.Logger) {
	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info().Msg("gRPC server stopped gracefully")
	case <-time.After(timeout):
		logger.Warn().Msg("gRPC graceful stop timed out, forcing")
		gs.Stop()
	}
}
