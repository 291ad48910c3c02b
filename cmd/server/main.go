package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheikh-saqib/rebase-ledger-system/internal/auth"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/bridge"
	bridgekafka "github.com/sheikh-saqib/rebase-ledger-system/internal/bridge/kafka"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/clock"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/config"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/dedup"
	eventskafka "github.com/sheikh-saqib/rebase-ledger-system/internal/events/kafka"
	eventsmemory "github.com/sheikh-saqib/rebase-ledger-system/internal/events/memory"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/ledger"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/logger"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/server"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/storage/gormstore"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/storage/memory"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/storage/postgres"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/vault"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultConfig().TimeFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

// closers run in reverse order on shutdown.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) closeAll(log *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var cleanup closers
	defer cleanup.closeAll(log)

	store, err := openStore(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	gate := auth.NewGate(cfg.Ledger.Owner, log)
	owner := cfg.Ledger.Owner
	for _, grant := range []struct {
		account    string
		capability models.Capability
	}{
		{cfg.Ledger.VaultIdentity, models.CapabilityIssueRedeem},
		{cfg.Ledger.BridgeIdentity, models.CapabilityIssueRedeem},
	} {
		if err := gate.Grant(owner, grant.account, grant.capability); err != nil {
			return fmt.Errorf("grant %s to %s: %w", grant.capability, grant.account, err)
		}
	}
	for _, admin := range cfg.Ledger.RateAdmins {
		if err := gate.Grant(owner, admin, models.CapabilityRateAdmin); err != nil {
			return fmt.Errorf("grant rate admin to %s: %w", admin, err)
		}
	}

	var publisher interfaces.EventPublisher = eventsmemory.NewPublisher(log)
	if cfg.Kafka.Enabled {
		p := eventskafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, cfg.Ledger.ID, log)
		cleanup.add(p.Close)
		publisher = p
	}

	ledgerCfg, err := cfg.Ledger.ToLedgerConfig()
	if err != nil {
		return err
	}
	l, err := ledger.New(ctx, ledgerCfg, store, gate,
		ledger.WithClock(clock.System{}),
		ledger.WithPublisher(publisher),
		ledger.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	v := vault.New(l, vault.NewMemoryCustodian(), cfg.Ledger.VaultIdentity, log)

	deduper, err := openDeduper(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	bridgePrefix := cfg.Kafka.TopicPrefix + "bridge."
	var transport interfaces.BridgeTransport
	var memTransport *bridge.MemoryTransport
	if cfg.Kafka.Enabled {
		t := bridgekafka.NewTransport(cfg.Kafka.Brokers, bridgePrefix)
		cleanup.add(t.Close)
		transport = t
	} else {
		memTransport = bridge.NewMemoryTransport(log)
		transport = memTransport
	}

	adapter := bridge.New(l, cfg.Ledger.BridgeIdentity, transport, deduper,
		bridge.WithMessageTTL(cfg.Bridge.MessageTTL),
		bridge.WithLogger(log),
	)
	if memTransport != nil {
		memTransport.Register(adapter)
		go flushLoop(ctx, memTransport, time.Second, log)
	}

	if cfg.Bridge.RelayEnabled {
		relay := bridgekafka.NewRelay(bridgekafka.RelayConfig{
			Brokers:     cfg.Kafka.Brokers,
			GroupID:     cfg.Kafka.GroupID,
			TopicPrefix: bridgePrefix,
			Backoff:     cfg.Bridge.RelayBackoff,
		}, adapter, log)
		cleanup.add(relay.Close)

		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bridge relay stopped", zap.Error(err))
			}
		}()
	}

	api := server.New(server.Deps{
		Ledger: l,
		Gate:   gate,
		Vault:  v,
		Bridge: adapter,
		Logger: log,
		JWT:    server.JWTConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("ledger_id", l.ID()),
			zap.String("store", cfg.Database.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// flushLoop delivers queued in-process bridge messages. Messages for ledgers
// not served by this process stay queued.
func flushLoop(ctx context.Context, t *bridge.MemoryTransport, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Flush(ctx); err != nil {
				log.Warn("bridge flush failed", zap.Error(err))
			}
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, cleanup *closers) (interfaces.AccountStore, error) {
	db := cfg.Database
	switch db.Driver {
	case config.DriverMemory:
		return memory.NewMemoryAccountStore(), nil

	case config.DriverPostgres:
		sqlDB, err := postgres.Open(ctx, db.DSN)
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(db.MaxOpenConns)
		sqlDB.SetMaxIdleConns(db.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(db.ConnMaxLifetime)
		cleanup.add(sqlDB.Close)

		store := postgres.NewPostgresAccountStore(sqlDB, cfg.Ledger.ID)
		if db.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return store, nil

	case config.DriverSQLite, config.DriverGormPostgres:
		dialect := gormstore.DialectSQLite
		if db.Driver == config.DriverGormPostgres {
			dialect = gormstore.DialectPostgres
		}
		gdb, err := gormstore.Open(dialect, db.DSN, gormstore.PoolConfig{
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			cleanup.add(sqlDB.Close)
		}

		store := gormstore.New(gdb, cfg.Ledger.ID)
		if db.AutoMigrate {
			if err := store.AutoMigrate(); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

func openDeduper(ctx context.Context, cfg *config.Config, cleanup *closers) (interfaces.MessageDeduper, error) {
	if !cfg.Redis.Enabled {
		d := dedup.NewMemoryDeduper(clock.System{}, time.Minute)
		cleanup.add(d.Close)
		return d, nil
	}

	d, err := dedup.NewRedisDeduper(ctx, dedup.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	cleanup.add(d.Close)
	return d, nil
}
