// Package sqlite provides a SQLite-backed account store that keeps the
// working set in memory and writes committed account changes to disk.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"craftskins/internal/infra/persistence/memory"
	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertions ensuring the store satisfies the domain interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Snapshotter     = (*Store)(nil)
)

// Store persists committed accounts to a single SQLite table. A transaction
// becomes visible only after its changed accounts are written.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a SQLite-backed persistent store and hydrates it from
// any accounts already on disk.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "craftskins.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		lamports INTEGER NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create accounts table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT address, owner, lamports, data FROM accounts`)
	if err != nil {
		return fmt.Errorf("select accounts: %w", err)
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
			return fmt.Errorf("scan: %w", err)
		}
		acct, err := decodeRow(address, owner, lamports, data)
		if err != nil {
			return err
		}
		snapshot.Accounts[address] = acct
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate accounts: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

func decodeRow(address, owner string, lamports int64, data []byte) (domain.Account, error) {
	addr, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return domain.Account{}, fmt.Errorf("decode address %q: %w", address, err)
	}
	own, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return domain.Account{}, fmt.Errorf("decode owner of %s: %w", address, err)
	}
	return domain.Account{Address: addr, Owner: own, Lamports: uint64(lamports), Data: data}, nil
}

// write applies one batch of account changes in a single SQL transaction.
func (s *Store) write(ctx context.Context, upserts []domain.Account, deletes []solana.PublicKey) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, acct := range upserts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO accounts(address,owner,lamports,data) VALUES(?,?,?,?)
			ON CONFLICT(address) DO UPDATE SET owner=excluded.owner, lamports=excluded.lamports, data=excluded.data`,
			acct.Address.String(), acct.Owner.String(), int64(acct.Lamports), nonNil(acct.Data)); err != nil {
			return fmt.Errorf("upsert %s: %w", acct.Address, err)
		}
	}
	for _, addr := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE address = ?`, addr.String()); err != nil {
			return fmt.Errorf("delete %s: %w", addr, err)
		}
	}
	return tx.Commit()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// RunInTransaction applies the provided function within a transaction and
// writes the changed accounts to SQLite before committing them in memory.
func (s *Store) RunInTransaction(ctx context.Context, locks domain.LockSet, fn func(tx domain.Transaction) error) (domain.Result, error) {
	return s.RunDurable(ctx, locks, s.write, fn)
}

// RestoreState replaces the stored accounts with snapshot on disk and in memory.
func (s *Store) RestoreState(ctx context.Context, snapshot domain.Snapshot) error {
	return s.ReplaceState(ctx, snapshot, s.write)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
