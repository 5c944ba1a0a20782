package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cartridge/paddle/internal/agent"
)

// Remote transports and local slot kinds understood by the trainer.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
	TransportNone = "none"

	SlotFile  = "file"
	SlotRedis = "redis"
	SlotNone  = "none"
)

// Trainer holds all trainer configuration. The mapstructure keys match the
// flag names so viper can bind flags and TRAINER_* variables to them.
type Trainer struct {
	// Snapshot service
	ServerURL       string        `mapstructure:"server-url"`
	RemoteTransport string        `mapstructure:"remote-transport"`
	GRPCAddr        string        `mapstructure:"grpc-addr"`
	RemoteTimeout   time.Duration `mapstructure:"remote-timeout"`

	// Local checkpoint slot
	LocalStore string        `mapstructure:"local-store"`
	LocalPath  string        `mapstructure:"local-path"`
	RedisAddr  string        `mapstructure:"redis-addr"`
	RedisKey   string        `mapstructure:"redis-key"`
	RedisTTL   time.Duration `mapstructure:"redis-ttl"`

	// Training loop
	MaxEpisodes    int   `mapstructure:"max-episodes"`
	MaxFrames      int   `mapstructure:"max-frames"`
	BatchSize      int   `mapstructure:"batch-size"`
	ReplayInterval int   `mapstructure:"replay-interval"`
	Seed           int64 `mapstructure:"seed"`

	// Agent hyperparameters
	HiddenSize     int     `mapstructure:"hidden-size"`
	LearningRate   float64 `mapstructure:"learning-rate"`
	Gamma          float64 `mapstructure:"gamma"`
	Epsilon        float64 `mapstructure:"epsilon"`
	EpsilonMin     float64 `mapstructure:"epsilon-min"`
	EpsilonDecay   float64 `mapstructure:"epsilon-decay"`
	MemoryCapacity int     `mapstructure:"memory-capacity"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	MetricsAddr     string        `mapstructure:"metrics-addr"`
	LogLevel        string        `mapstructure:"log-level"`
}

// DefaultTrainer returns a config with the stock hyperparameters.
func DefaultTrainer() *Trainer {
	a := agent.DefaultConfig()
	return &Trainer{
		ServerURL:       "http://localhost:4000",
		RemoteTransport: TransportHTTP,
		GRPCAddr:        "localhost:4001",
		RemoteTimeout:   10 * time.Second,
		LocalStore:      SlotFile,
		LocalPath:       "./data/agent.json",
		RedisAddr:       "localhost:6379",
		RedisKey:        "paddle:agent",
		MaxEpisodes:     -1, // unlimited
		MaxFrames:       10000,
		BatchSize:       32,
		ReplayInterval:  1,
		HiddenSize:      a.HiddenSize,
		LearningRate:    a.LearningRate,
		Gamma:           a.Gamma,
		Epsilon:         a.Epsilon,
		EpsilonMin:      a.EpsilonMin,
		EpsilonDecay:    a.EpsilonDecay,
		MemoryCapacity:  a.MemoryCapacity,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// RegisterTrainerFlags declares one flag per field, defaulting to cfg.
func RegisterTrainerFlags(fs *pflag.FlagSet, cfg *Trainer) {
	fs.String("server-url", cfg.ServerURL, "Snapshot service base URL")
	fs.String("remote-transport", cfg.RemoteTransport, "Snapshot service transport (http, grpc, none)")
	fs.String("grpc-addr", cfg.GRPCAddr, "Snapshot service gRPC address")
	fs.Duration("remote-timeout", cfg.RemoteTimeout, "Timeout per remote call")

	fs.String("local-store", cfg.LocalStore, "Local checkpoint slot (file, redis, none)")
	fs.String("local-path", cfg.LocalPath, "Checkpoint file for the file slot")
	fs.String("redis-addr", cfg.RedisAddr, "Redis address for the redis slot")
	fs.String("redis-key", cfg.RedisKey, "Redis key for the redis slot")
	fs.Duration("redis-ttl", cfg.RedisTTL, "Expiry of the redis slot (0 keeps it)")

	fs.Int("max-episodes", cfg.MaxEpisodes, "Maximum episodes to run (-1 for unlimited)")
	fs.Int("max-frames", cfg.MaxFrames, "Frame cap per episode (0 for none)")
	fs.Int("batch-size", cfg.BatchSize, "Replay batch size")
	fs.Int("replay-interval", cfg.ReplayInterval, "Frames between replay steps")
	fs.Int64("seed", cfg.Seed, "Random seed (0 picks one from the clock)")

	fs.Int("hidden-size", cfg.HiddenSize, "Hidden layer width")
	fs.Float64("learning-rate", cfg.LearningRate, "SGD learning rate")
	fs.Float64("gamma", cfg.Gamma, "Discount factor")
	fs.Float64("epsilon", cfg.Epsilon, "Initial exploration rate")
	fs.Float64("epsilon-min", cfg.EpsilonMin, "Exploration floor")
	fs.Float64("epsilon-decay", cfg.EpsilonDecay, "Exploration decay per replay")
	fs.Int("memory-capacity", cfg.MemoryCapacity, "Replay buffer capacity")

	fs.Duration("shutdown-timeout", cfg.ShutdownTimeout, "Time to wait for pending deliveries on exit")
	fs.String("metrics-addr", cfg.MetricsAddr, "Prometheus listen address (empty disables)")
	fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

// LoadTrainer resolves flags, TRAINER_* environment variables and defaults,
// in that order of precedence, and validates the result.
func LoadTrainer(fs *pflag.FlagSet) (*Trainer, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix("TRAINER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := DefaultTrainer()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Trainer) Validate() error {
	switch c.RemoteTransport {
	case TransportHTTP:
		if c.ServerURL == "" {
			return errors.New("server-url is required for the http transport")
		}
	case TransportGRPC:
		if c.GRPCAddr == "" {
			return errors.New("grpc-addr is required for the grpc transport")
		}
	case TransportNone:
	default:
		return fmt.Errorf("remote-transport must be http, grpc or none, got %q", c.RemoteTransport)
	}
	switch c.LocalStore {
	case SlotFile:
		if c.LocalPath == "" {
			return errors.New("local-path is required for the file slot")
		}
	case SlotRedis:
		if c.RedisAddr == "" || c.RedisKey == "" {
			return errors.New("redis-addr and redis-key are required for the redis slot")
		}
	case SlotNone:
	default:
		return fmt.Errorf("local-store must be file, redis or none, got %q", c.LocalStore)
	}
	if c.BatchSize <= 0 {
		return errors.New("batch-size must be positive")
	}
	if c.ReplayInterval <= 0 {
		return errors.New("replay-interval must be positive")
	}
	if c.MaxFrames < 0 {
		return errors.New("max-frames must not be negative")
	}
	if c.RemoteTimeout <= 0 {
		return errors.New("remote-timeout must be positive")
	}
	if err := c.AgentConfig().Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}

// AgentConfig converts the hyperparameters for agent.New.
func (c *Trainer) AgentConfig() agent.Config {
	cfg := agent.DefaultConfig()
	cfg.HiddenSize = c.HiddenSize
	cfg.LearningRate = c.LearningRate
	cfg.Gamma = c.Gamma
	cfg.Epsilon = c.Epsilon
	cfg.EpsilonMin = c.EpsilonMin
	cfg.EpsilonDecay = c.EpsilonDecay
	cfg.MemoryCapacity = c.MemoryCapacity
	return cfg
}
