package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	_ "github.com/lib/pq" // postgres driver
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/models"
)

//go:embed schema.sql
var schema string

// PostgresAccountStore keeps one ledger's accounts, global record and journal
// in postgres. Rows of other ledgers in the same tables are never touched.
type PostgresAccountStore struct {
	db       *sql.DB
	ledgerID string
}

func NewPostgresAccountStore(db *sql.DB, ledgerID string) *PostgresAccountStore {
	return &PostgresAccountStore{
		db:       db,
		ledgerID: ledgerID,
	}
}

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist yet.
func (p *PostgresAccountStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *PostgresAccountStore) GetAccount(ctx context.Context, holder string) (models.Account, error) {
	const query = `SELECT holder, principal, rate, last_accrual_at FROM ledger_accounts
	WHERE ledger_id = $1 AND holder = $2`

	acct, err := scanAccount(p.db.QueryRowContext(ctx, query, p.ledgerID, holder))
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewAccount(holder), nil
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("get account %s: %w", holder, err)
	}
	return acct, nil
}

func (p *PostgresAccountStore) GetGlobalState(ctx context.Context) (models.GlobalState, bool, error) {
	const query = `SELECT current_rate, precision_factor, updated_at FROM ledger_global_state
	WHERE ledger_id = $1`

	var (
		rate, precision string
		global          = models.GlobalState{LedgerID: p.ledgerID}
	)
	err := p.db.QueryRowContext(ctx, query, p.ledgerID).Scan(&rate, &precision, &global.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GlobalState{}, false, nil
	}
	if err != nil {
		return models.GlobalState{}, false, fmt.Errorf("get global state: %w", err)
	}

	if err := setDecimal(&global.CurrentRate, rate); err != nil {
		return models.GlobalState{}, false, err
	}
	if err := setDecimal(&global.PrecisionFactor, precision); err != nil {
		return models.GlobalState{}, false, err
	}
	return global, true, nil
}

func (p *PostgresAccountStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	const query = `SELECT holder, principal, rate, last_accrual_at FROM ledger_accounts
	WHERE ledger_id = $1 ORDER BY holder`

	rows, err := p.db.QueryContext(ctx, query, p.ledgerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *PostgresAccountStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	const query = `SELECT id, operation_id, holder, kind, amount, rate, created_at FROM ledger_entries
	WHERE ledger_id = $1 ORDER BY seq`

	return p.queryEntries(ctx, query, p.ledgerID)
}

func (p *PostgresAccountStore) GetEntriesByHolder(ctx context.Context, holder string) ([]models.LedgerEntry, error) {
	const query = `SELECT id, operation_id, holder, kind, amount, rate, created_at FROM ledger_entries
	WHERE ledger_id = $1 AND holder = $2 ORDER BY seq`

	return p.queryEntries(ctx, query, p.ledgerID, holder)
}

func (p *PostgresAccountStore) queryEntries(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			entry        models.LedgerEntry
			kind         string
			amount, rate string
		)
		if err := rows.Scan(&entry.ID, &entry.OperationID, &entry.Holder, &kind, &amount, &rate, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Kind = models.EntryKind(kind)
		if err := setDecimal(&entry.Amount, amount); err != nil {
			return nil, err
		}
		if err := setDecimal(&entry.Rate, rate); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Commit writes the whole batch in one database transaction.
func (p *PostgresAccountStore) Commit(ctx context.Context, batch models.Batch) (err error) {
	if batch.IsEmpty() {
		return nil
	}

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	for _, acct := range batch.Accounts {
		if err = p.saveAccount(ctx, dbTx, acct); err != nil {
			return err
		}
	}

	if batch.Global != nil {
		if err = p.saveGlobalState(ctx, dbTx, *batch.Global); err != nil {
			return err
		}
	}

	for _, entry := range batch.Entries {
		if err = p.saveEntry(ctx, dbTx, entry); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

func (p *PostgresAccountStore) saveAccount(ctx context.Context, dbTx *sql.Tx, acct models.Account) error {
	const query = `INSERT INTO ledger_accounts (ledger_id, holder, principal, rate, last_accrual_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (ledger_id, holder) DO UPDATE
	SET principal = EXCLUDED.principal, rate = EXCLUDED.rate, last_accrual_at = EXCLUDED.last_accrual_at`

	lastAccrual := sql.NullTime{Time: acct.LastAccrualAt, Valid: !acct.LastAccrualAt.IsZero()}
	_, err := dbTx.ExecContext(ctx, query, p.ledgerID, acct.Holder, acct.Principal.Dec(), acct.Rate.Dec(), lastAccrual)
	if err != nil {
		return fmt.Errorf("save account %s: %w", acct.Holder, err)
	}
	return nil
}

func (p *PostgresAccountStore) saveGlobalState(ctx context.Context, dbTx *sql.Tx, global models.GlobalState) error {
	const query = `INSERT INTO ledger_global_state (ledger_id, current_rate, precision_factor, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (ledger_id) DO UPDATE
	SET current_rate = EXCLUDED.current_rate, updated_at = EXCLUDED.updated_at`

	_, err := dbTx.ExecContext(ctx, query, p.ledgerID, global.CurrentRate.Dec(), global.PrecisionFactor.Dec(), global.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save global state: %w", err)
	}
	return nil
}

func (p *PostgresAccountStore) saveEntry(ctx context.Context, dbTx *sql.Tx, entry models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, ledger_id, operation_id, holder, kind, amount, rate, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := dbTx.ExecContext(ctx, query, entry.ID, p.ledgerID, entry.OperationID, entry.Holder,
		string(entry.Kind), entry.Amount.Dec(), entry.Rate.Dec(), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("save ledger entry %s: %w", entry.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		acct            models.Account
		principal, rate string
		lastAccrual     sql.NullTime
	)
	if err := row.Scan(&acct.Holder, &principal, &rate, &lastAccrual); err != nil {
		return models.Account{}, err
	}
	if err := setDecimal(&acct.Principal, principal); err != nil {
		return models.Account{}, err
	}
	if err := setDecimal(&acct.Rate, rate); err != nil {
		return models.Account{}, err
	}
	if lastAccrual.Valid {
		acct.LastAccrualAt = lastAccrual.Time.UTC()
	}
	return acct, nil
}

// setDecimal parses a NUMERIC(78,0) column value into dst.
func setDecimal(dst *uint256.Int, s string) error {
	if err := dst.SetFromDecimal(s); err != nil {
		return fmt.Errorf("invalid numeric %q: %w", s, err)
	}
	return nil
}

// Compile-time check: ensure PostgresAccountStore implements AccountStore interface
var _ interfaces.AccountStore = (*PostgresAccountStore)(nil)
