// Package config loads the pool engine configuration from an optional YAML
// file, a .env file and BETTING_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/officebet/pool-engine/internal/payout"
	"github.com/officebet/pool-engine/internal/wagering"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BETTING_"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrInvalid is returned when a loaded value is out of range.
var ErrInvalid = errors.New("config: invalid value")

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Wagering  WageringConfig  `yaml:"wagering"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"` // per-request handler deadline, below write_timeout
}

// StorageConfig selects the primary store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite | postgres
	DSN    string `yaml:"dsn"`    // SQLite path or PostgreSQL URL
}

// RedisConfig enables the read-through cache and distributed bet locks.
type RedisConfig struct {
	URL              string        `yaml:"url"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	DistributedLocks bool          `yaml:"distributed_locks"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
}

// KafkaConfig enables the event stream. Empty brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// WageringConfig holds the house rules.
type WageringConfig struct {
	MinimumWager    int64         `yaml:"minimum_wager"`
	EarlyBetBonus   string        `yaml:"early_bet_bonus"`
	InitialBalance  *int64        `yaml:"initial_balance"` // nil selects the default; 0 is honoured
	ZeroStakePolicy string        `yaml:"zero_stake_policy"` // forfeit | refund
	LockTimeout     time.Duration `yaml:"lock_timeout"`
}

// RateLimitConfig bounds mutating requests per account.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads .env if present, then the YAML file at path (skipped when path
// is empty), then environment overrides, then fills defaults and validates.
func Load(path string) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%w: storage.driver %q", ErrInvalid, c.Storage.Driver)
	}
	if c.Server.RequestTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("%w: server.request_timeout (%s) must be shorter than server.write_timeout (%s)",
			ErrInvalid, c.Server.RequestTimeout, c.Server.WriteTimeout)
	}
	if c.Storage.Driver == DriverPostgres && c.Storage.DSN == "" {
		return fmt.Errorf("%w: storage.dsn is required for postgres", ErrInvalid)
	}
	if c.Wagering.MinimumWager <= 0 {
		return fmt.Errorf("%w: wagering.minimum_wager must be positive", ErrInvalid)
	}
	if c.Wagering.InitialBalance == nil {
		return fmt.Errorf("%w: wagering.initial_balance is unset", ErrInvalid)
	}
	if *c.Wagering.InitialBalance < 0 {
		return fmt.Errorf("%w: wagering.initial_balance must not be negative", ErrInvalid)
	}
	bonus, err := decimal.NewFromString(c.Wagering.EarlyBetBonus)
	if err != nil {
		return fmt.Errorf("%w: wagering.early_bet_bonus %q", ErrInvalid, c.Wagering.EarlyBetBonus)
	}
	if bonus.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: wagering.early_bet_bonus must be at least 1", ErrInvalid)
	}
	if _, err := payout.ParsePolicy(c.Wagering.ZeroStakePolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Redis.DistributedLocks && c.Redis.URL == "" {
		return fmt.Errorf("%w: redis.distributed_locks needs redis.url", ErrInvalid)
	}
	return nil
}

// Engine converts the wagering section into engine rules. Call after
// Validate.
func (c *Config) Engine() wagering.Config {
	policy, _ := payout.ParsePolicy(c.Wagering.ZeroStakePolicy)
	return wagering.Config{
		MinimumWager:    c.Wagering.MinimumWager,
		EarlyBetBonus:   decimal.RequireFromString(c.Wagering.EarlyBetBonus),
		InitialBalance:  *c.Wagering.InitialBalance,
		ZeroStakePolicy: policy,
		LockTimeout:     c.Wagering.LockTimeout,
	}
}

// NewLogger builds the process logger from the log section.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// applyEnvOverrides overwrites values with BETTING_* variables when present.
// PORT, DATABASE_URL and REDIS_URL are honoured as fallbacks.
func applyEnvOverrides(cfg *Config) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	num := func(key string, set func(string) error) {
		if v := os.Getenv(key); v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
			}
		}
	}

	str(&cfg.Server.Port, EnvPrefix+"PORT", "PORT")
	str(&cfg.Storage.Driver, EnvPrefix+"STORAGE_DRIVER")
	str(&cfg.Storage.DSN, EnvPrefix+"DATABASE_URL", "DATABASE_URL")
	str(&cfg.Redis.URL, EnvPrefix+"REDIS_URL", "REDIS_URL")
	str(&cfg.Kafka.Topic, EnvPrefix+"KAFKA_TOPIC")
	str(&cfg.Wagering.EarlyBetBonus, EnvPrefix+"EARLY_BET_BONUS")
	str(&cfg.Wagering.ZeroStakePolicy, EnvPrefix+"ZERO_STAKE_POLICY")
	str(&cfg.Log.Level, EnvPrefix+"LOG_LEVEL", "LOG_LEVEL")
	str(&cfg.Log.Format, EnvPrefix+"LOG_FORMAT", "LOG_FORMAT")

	if v := os.Getenv(EnvPrefix + "KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}

	num(EnvPrefix+"MINIMUM_WAGER", func(v string) (err error) {
		cfg.Wagering.MinimumWager, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	num(EnvPrefix+"INITIAL_BALANCE", func(v string) (err error) {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			cfg.Wagering.InitialBalance = &n
		}
		return err
	})
	num(EnvPrefix+"LOCK_TIMEOUT", func(v string) (err error) {
		cfg.Wagering.LockTimeout, err = time.ParseDuration(v)
		return err
	})
	num(EnvPrefix+"REQUEST_TIMEOUT", func(v string) (err error) {
		cfg.Server.RequestTimeout, err = time.ParseDuration(v)
		return err
	})
	num(EnvPrefix+"REDIS_CACHE_TTL", func(v string) (err error) {
		cfg.Redis.CacheTTL, err = time.ParseDuration(v)
		return err
	})
	num(EnvPrefix+"REDIS_DISTRIBUTED_LOCKS", func(v string) (err error) {
		cfg.Redis.DistributedLocks, err = strconv.ParseBool(v)
		return err
	})
	num(EnvPrefix+"RATE_LIMIT_PER_SECOND", func(v string) (err error) {
		cfg.RateLimit.PerSecond, err = strconv.ParseFloat(v, 64)
		return err
	})
	num(EnvPrefix+"RATE_LIMIT_BURST", func(v string) (err error) {
		cfg.RateLimit.Burst, err = strconv.Atoi(v)
		return err
	})

	return errors.Join(errs...)
}

// setDefaults fills every unset value.
func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	// Leave the handler time to write its 503 before the connection deadline.
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = cfg.Server.WriteTimeout * 4 / 5
	}
	if cfg.Storage.Driver == "" {
		switch {
		case strings.HasPrefix(cfg.Storage.DSN, "postgres://"), strings.HasPrefix(cfg.Storage.DSN, "postgresql://"):
			cfg.Storage.Driver = DriverPostgres
		default:
			cfg.Storage.Driver = DriverSQLite
		}
	}
	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "betting.db"
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = 30 * time.Second
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "pool-events"
	}
	if cfg.Wagering.MinimumWager == 0 {
		cfg.Wagering.MinimumWager = 50
	}
	if cfg.Wagering.EarlyBetBonus == "" {
		cfg.Wagering.EarlyBetBonus = "1.2"
	}
	if cfg.Wagering.InitialBalance == nil {
		n := int64(1000)
		cfg.Wagering.InitialBalance = &n
	}
	if cfg.Wagering.ZeroStakePolicy == "" {
		cfg.Wagering.ZeroStakePolicy = string(payout.PolicyForfeit)
	}
	if cfg.Wagering.LockTimeout <= 0 {
		cfg.Wagering.LockTimeout = 5 * time.Second
	}
	if cfg.RateLimit.PerSecond <= 0 {
		cfg.RateLimit.PerSecond = 5
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
