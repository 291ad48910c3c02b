// Package config loads the service configuration from an optional config.toml,
// a .env file and REBASE_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DriverMemory       = "memory"
	DriverPostgres     = "postgres"
	DriverSQLite       = "sqlite"
	DriverGormPostgres = "gorm-postgres"
)

type Config struct {
	App      AppConfig
	Log      LogConfig
	Ledger   LedgerConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Bridge   BridgeConfig
	JWT      JWTConfig
}

type AppConfig struct {
	Name string
	Env  string
	Port string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type LedgerConfig struct {
	ID              string
	InitialRate     string // per-second rate scaled by the precision factor
	InitialAPR      string // annual percentage, alternative to InitialRate
	PrecisionFactor string
	Owner           string
	VaultIdentity   string
	BridgeIdentity  string
	RateAdmins      []string
}

type DatabaseConfig struct {
	Driver          string // memory, postgres, sqlite, gorm-postgres
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	TopicPrefix string
	GroupID     string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type BridgeConfig struct {
	MessageTTL   time.Duration // zero keeps processed message IDs forever
	RelayEnabled bool
	RelayBackoff time.Duration
}

type JWTConfig struct {
	Secret string
	Issuer string
}

// Load reads .env (if present), config.toml (if present) and the environment.
// Environment variables win, e.g. REBASE_LEDGER_ID overrides ledger.id.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("REBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Ledger: LedgerConfig{
			ID:              v.GetString("ledger.id"),
			InitialRate:     v.GetString("ledger.initial_rate"),
			InitialAPR:      v.GetString("ledger.initial_apr"),
			PrecisionFactor: v.GetString("ledger.precision_factor"),
			Owner:           v.GetString("ledger.owner"),
			VaultIdentity:   v.GetString("ledger.vault_identity"),
			BridgeIdentity:  v.GetString("ledger.bridge_identity"),
			RateAdmins:      splitList(v.GetStringSlice("ledger.rate_admins")),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Kafka: KafkaConfig{
			Enabled:     v.GetBool("kafka.enabled"),
			Brokers:     splitList(v.GetStringSlice("kafka.brokers")),
			TopicPrefix: v.GetString("kafka.topic_prefix"),
			GroupID:     v.GetString("kafka.group_id"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Bridge: BridgeConfig{
			MessageTTL:   v.GetDuration("bridge.message_ttl"),
			RelayEnabled: v.GetBool("bridge.relay_enabled"),
			RelayBackoff: v.GetDuration("bridge.relay_backoff"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// splitList accepts both toml arrays and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "rebase-ledger"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Ledger.ID == "" {
		cfg.Ledger.ID = "main"
	}
	if cfg.Ledger.PrecisionFactor == "" {
		cfg.Ledger.PrecisionFactor = ledger.DefaultPrecisionFactor().Dec()
	}
	if cfg.Ledger.Owner == "" {
		cfg.Ledger.Owner = "owner"
	}
	if cfg.Ledger.VaultIdentity == "" {
		cfg.Ledger.VaultIdentity = "vault"
	}
	if cfg.Ledger.BridgeIdentity == "" {
		cfg.Ledger.BridgeIdentity = "bridge"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMemory
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Kafka.TopicPrefix == "" {
		cfg.Kafka.TopicPrefix = "rebase."
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = cfg.App.Name + "-" + cfg.Ledger.ID
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Bridge.RelayBackoff == 0 {
		cfg.Bridge.RelayBackoff = time.Second
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = cfg.App.Name
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite, DriverGormPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Ledger.InitialRate != "" && c.Ledger.InitialAPR != "" {
		return fmt.Errorf("set only one of ledger.initial_rate and ledger.initial_apr")
	}
	if _, err := c.Ledger.ToLedgerConfig(); err != nil {
		return err
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Bridge.RelayEnabled && !c.Kafka.Enabled {
		return fmt.Errorf("bridge.relay_enabled requires kafka")
	}
	if c.Bridge.MessageTTL < 0 {
		return fmt.Errorf("bridge.message_ttl cannot be negative")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.App.Env == "production" {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Driver == DriverMemory {
			return fmt.Errorf("database.driver cannot be memory in production")
		}
	}
	return nil
}

// ToLedgerConfig parses the rate settings. With neither initial_rate nor
// initial_apr set the ledger default applies.
func (l LedgerConfig) ToLedgerConfig() (ledger.Config, error) {
	precision, err := uint256.FromDecimal(l.PrecisionFactor)
	if err != nil || precision.IsZero() {
		return ledger.Config{}, fmt.Errorf("ledger.precision_factor %q must be a positive integer", l.PrecisionFactor)
	}

	cfg := ledger.Config{ID: l.ID, PrecisionFactor: precision}
	switch {
	case l.InitialRate != "":
		rate, err := uint256.FromDecimal(l.InitialRate)
		if err != nil {
			return ledger.Config{}, fmt.Errorf("ledger.initial_rate %q: %w", l.InitialRate, err)
		}
		cfg.InitialRate = rate
	case l.InitialAPR != "":
		apr, err := decimal.NewFromString(l.InitialAPR)
		if err != nil {
			return ledger.Config{}, fmt.Errorf("ledger.initial_apr %q: %w", l.InitialAPR, err)
		}
		rate, err := ledger.RateFromAnnualPercent(apr, precision)
		if err != nil {
			return ledger.Config{}, fmt.Errorf("ledger.initial_apr %q: %w", l.InitialAPR, err)
		}
		cfg.InitialRate = rate
	default:
		cfg.InitialRate = ledger.DefaultInitialRate()
	}
	return cfg, nil
}
