// Package postgres provides a Postgres-backed account store that mirrors the
// in-memory semantics and writes committed account changes after every
// successful transaction.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"craftskins/internal/infra/persistence/memory"
	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertions ensuring the store satisfies the domain interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Snapshotter     = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/craftskins?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists accounts to Postgres while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureAccountsTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies the provided function within a transaction and
// writes changed accounts to Postgres before committing them in memory.
func (s *Store) RunInTransaction(ctx context.Context, locks domain.LockSet, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.RunDurable(ctx, locks, s.write, fn)
}

// RestoreState replaces the stored accounts with snapshot in Postgres and in memory.
func (s *Store) RestoreState(ctx context.Context, snapshot domain.Snapshot) error {
	return s.ReplaceState(ctx, snapshot, s.write)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureAccountsTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		lamports BIGINT NOT NULL,
		data BYTEA NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure accounts table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT address, owner, lamports, data FROM accounts`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Accounts: make(map[string]domain.Account)}
	for rows.Next() {
		var (
			address, owner string
			lamports       int64
			data           []byte
		)
		if err := rows.Scan(&address, &owner, &lamports, &data); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan account: %w", err)
		}
		addr, err := solana.PublicKeyFromBase58(address)
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode address %q: %w", address, err)
		}
		own, err := solana.PublicKeyFromBase58(owner)
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode owner of %s: %w", address, err)
		}
		snapshot.Accounts[address] = domain.Account{Address: addr, Owner: own, Lamports: uint64(lamports), Data: data}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate accounts: %w", err)
	}
	return snapshot, nil
}

func (s *Store) write(ctx context.Context, upserts []domain.Account, deletes []solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, acct := range upserts {
		data := acct.Data
		if data == nil {
			data = []byte{}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO accounts(address,owner,lamports,data) VALUES($1,$2,$3,$4) ON CONFLICT(address) DO UPDATE SET owner=EXCLUDED.owner, lamports=EXCLUDED.lamports, data=EXCLUDED.data`,
			acct.Address.String(), acct.Owner.String(), int64(acct.Lamports), data); err != nil {
			return fmt.Errorf("upsert %s: %w", acct.Address, err)
		}
	}
	for _, addr := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE address = $1`, addr.String()); err != nil {
			return fmt.Errorf("delete %s: %w", addr, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
