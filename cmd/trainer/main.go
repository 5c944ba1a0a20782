package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cartridge/paddle/internal/agent"
	"github.com/cartridge/paddle/internal/breakout"
	"github.com/cartridge/paddle/internal/checkpoint"
	"github.com/cartridge/paddle/internal/config"
	"github.com/cartridge/paddle/internal/grpcapi"
	"github.com/cartridge/paddle/internal/metrics"
	"github.com/cartridge/paddle/internal/service"
	"github.com/cartridge/paddle/internal/trainer"
)

var rootCmd = &cobra.Command{
	Use:   "trainer",
	Short: "Paddle Q-learning trainer",
	Long: `Trainer plays headless breakout with a Q-learning agent.

After every episode the agent is checkpointed to a local slot and sent to
the snapshot service. On startup the newest snapshot is restored.`,
	SilenceUsage: true,
	RunE:         runTrain,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Train the agent (default command)",
	RunE:  runTrain,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent snapshots stored by the service",
	RunE:  runHistory,
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the newest snapshot's metadata",
	RunE:  runLatest,
}

func init() {
	config.RegisterTrainerFlags(rootCmd.PersistentFlags(), config.DefaultTrainer())
	historyCmd.Flags().Int("limit", service.DefaultPageLimit, "Number of snapshots to list")

	rootCmd.AddCommand(runCmd, historyCmd, latestCmd)
}

func newLogger(level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "trainer").Logger()
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		logger = logger.Level(lvl)
	}
	return logger
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadTrainer(cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	learner, err := agent.New(cfg.AgentConfig(), rand.New(rand.NewSource(seed)))
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	remote, closeRemote, err := newRemote(cfg)
	if err != nil {
		return err
	}
	defer closeRemote()

	slot, closeSlot := newSlot(cfg)
	defer closeSlot()

	reg := prometheus.NewRegistry()
	collector := metrics.NewTrainerCollector(reg)

	client := checkpoint.NewClient(learner, slot, remote, logger, checkpoint.Options{
		RemoteTimeout: cfg.RemoteTimeout,
		Observer:      collector,
	})
	client.RestoreOnStartup(ctx)

	tr := trainer.New(trainer.Config{
		MaxEpisodes:     cfg.MaxEpisodes,
		BatchSize:       cfg.BatchSize,
		ReplayInterval:  cfg.ReplayInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, breakout.New(breakout.DefaultRewards(), cfg.MaxFrames), learner, client, collector, logger)

	logger.Info().
		Int64("seed", seed).
		Str("transport", cfg.RemoteTransport).
		Str("slot", cfg.LocalStore).
		Msg("starting trainer")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return tr.Run(gctx)
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Int("episodes", tr.Episodes()).Msg("trainer stopped")
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadTrainer(cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	remote, closeRemote, err := requireRemote(cfg)
	if err != nil {
		return err
	}
	defer closeRemote()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RemoteTimeout)
	defer cancel()
	page, err := remote.Page(ctx, limit)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	return printJSON(cmd, page)
}

func runLatest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadTrainer(cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	remote, closeRemote, err := requireRemote(cfg)
	if err != nil {
		return err
	}
	defer closeRemote()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RemoteTimeout)
	defer cancel()
	rec, err := remote.Latest(ctx)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNoSnapshot) {
			fmt.Fprintln(cmd.OutOrStdout(), "no snapshots stored yet")
			return nil
		}
		return fmt.Errorf("fetch latest snapshot: %w", err)
	}
	return printJSON(cmd, rec.Summary())
}

// newRemote returns a nil remote for offline training.
func newRemote(cfg *config.Trainer) (checkpoint.Remote, func(), error) {
	switch cfg.RemoteTransport {
	case config.TransportGRPC:
		client, err := grpcapi.Dial(cfg.GRPCAddr)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	case config.TransportHTTP:
		return checkpoint.NewHTTPRemote(cfg.ServerURL, &http.Client{Timeout: cfg.RemoteTimeout}), func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

func requireRemote(cfg *config.Trainer) (checkpoint.Remote, func(), error) {
	remote, closeRemote, err := newRemote(cfg)
	if err != nil {
		return nil, nil, err
	}
	if remote == nil {
		return nil, nil, checkpoint.ErrNoRemote
	}
	return remote, closeRemote, nil
}

func newSlot(cfg *config.Trainer) (checkpoint.Slot, func()) {
	switch cfg.LocalStore {
	case config.SlotRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return checkpoint.NewRedisSlot(rdb, cfg.RedisKey, cfg.RedisTTL), func() { _ = rdb.Close() }
	case config.SlotFile:
		return checkpoint.NewFileSlot(cfg.LocalPath), func() {}
	default:
		return checkpoint.NopSlot{}, func() {}
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
