// Package gormstore persists a ledger through gorm. It runs on postgres in
// production and on sqlite for local runs and tests.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the database with the given dialect and pings it.
func Open(dialect, dsn string, pool PoolConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dialect == DialectSQLite {
		// every sqlite connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	} else {
		if pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Store implements interfaces.AccountStore for one ledger ID.
type Store struct {
	db       *gorm.DB
	ledgerID string
}

func New(db *gorm.DB, ledgerID string) *Store {
	return &Store{db: db, ledgerID: ledgerID}
}

// AutoMigrate creates or updates the ledger tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&GlobalStateModel{}, &AccountModel{}, &EntryModel{})
}

func (s *Store) GetAccount(ctx context.Context, holder string) (models.Account, error) {
	var m AccountModel
	err := s.db.WithContext(ctx).
		Where("ledger_id = ? AND holder = ?", s.ledgerID, holder).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewAccount(holder), nil
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("get account %s: %w", holder, err)
	}
	return m.ToDomain()
}

func (s *Store) GetGlobalState(ctx context.Context) (models.GlobalState, bool, error) {
	var m GlobalStateModel
	err := s.db.WithContext(ctx).Where("ledger_id = ?", s.ledgerID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.GlobalState{}, false, nil
	}
	if err != nil {
		return models.GlobalState{}, false, fmt.Errorf("get global state: %w", err)
	}
	g, err := m.ToDomain()
	if err != nil {
		return models.GlobalState{}, false, err
	}
	return g, true, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var rows []AccountModel
	if err := s.db.WithContext(ctx).Where("ledger_id = ?", s.ledgerID).Order("holder").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	accounts := make([]models.Account, 0, len(rows))
	for i := range rows {
		acct, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func (s *Store) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	return s.findEntries(s.db.WithContext(ctx).Where("ledger_id = ?", s.ledgerID))
}

func (s *Store) GetEntriesByHolder(ctx context.Context, holder string) ([]models.LedgerEntry, error) {
	return s.findEntries(s.db.WithContext(ctx).Where("ledger_id = ? AND holder = ?", s.ledgerID, holder))
}

func (s *Store) findEntries(q *gorm.DB) ([]models.LedgerEntry, error) {
	var rows []EntryModel
	if err := q.Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}

	entries := make([]models.LedgerEntry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Commit writes the batch in one transaction.
func (s *Store) Commit(ctx context.Context, batch models.Batch) error {
	if batch.IsEmpty() {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(batch.Accounts) > 0 {
			rows := make([]AccountModel, len(batch.Accounts))
			for i, a := range batch.Accounts {
				rows[i].FromDomainAccount(s.ledgerID, a)
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "ledger_id"}, {Name: "holder"}},
				DoUpdates: clause.AssignmentColumns([]string{"principal", "rate", "last_accrual_at"}),
			}).Create(&rows).Error
			if err != nil {
				return fmt.Errorf("save accounts: %w", err)
			}
		}

		if batch.Global != nil {
			var row GlobalStateModel
			row.FromDomainGlobalState(s.ledgerID, *batch.Global)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "ledger_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"current_rate", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("save global state: %w", err)
			}
		}

		if len(batch.Entries) > 0 {
			rows := make([]EntryModel, len(batch.Entries))
			for i, e := range batch.Entries {
				rows[i].FromDomainEntry(s.ledgerID, e)
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("save ledger entries: %w", err)
			}
		}
		return nil
	})
}

var _ interfaces.AccountStore = (*Store)(nil)
