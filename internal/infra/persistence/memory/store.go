// Package memory provides an in-memory implementation of the ledger account
// store used for tests, ephemeral environments and as the working set of the
// durable backends.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Snapshotter     = (*Store)(nil)
)

type (
	// Account aliases domain.Account stored by the memory backend.
	Account = domain.Account
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// LockSet aliases domain.LockSet.
	LockSet = domain.LockSet
	// Snapshot aliases domain.Snapshot.
	Snapshot = domain.Snapshot
)

// WriteFunc writes account upserts and deletions to durable storage. It runs
// before the changes become visible; a non-nil error discards them.
type WriteFunc func(ctx context.Context, upserts []Account, deletes []solana.PublicKey) error

// Store provides an in-memory transactional account store. Transactions on
// disjoint lock sets run concurrently; commits are serialized by mu. State
// swaps hold gate exclusively and so never overlap a running transaction.
type Store struct {
	gate     sync.RWMutex
	mu       sync.RWMutex
	accounts map[solana.PublicKey]Account
	locks    *lockTable
	engine   *RulesEngine
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		accounts: make(map[solana.PublicKey]Account),
		locks:    newLockTable(),
		engine:   engine,
	}
}

// RulesEngine exposes the configured engine so callers can register rules.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Accounts: make(map[string]Account, len(s.accounts))}
	for addr, acct := range s.accounts {
		snap.Accounts[addr.String()] = acct.Clone()
	}
	return snap
}

// ImportState replaces the store state with the provided snapshot. Entries
// whose key does not parse as an address are keyed by their Address field.
func (s *Store) ImportState(snapshot Snapshot) {
	_ = s.ReplaceState(context.Background(), snapshot, nil)
}

// RestoreState implements domain.Snapshotter.
func (s *Store) RestoreState(ctx context.Context, snapshot Snapshot) error {
	return s.ReplaceState(ctx, snapshot, nil)
}

// ReplaceState swaps in snapshot once running transactions have finished.
// When write is set, the difference to the current state is written first
// and a write error keeps the current state.
func (s *Store) ReplaceState(ctx context.Context, snapshot Snapshot, write WriteFunc) error {
	next := Snapshot{Accounts: make(map[string]Account, len(snapshot.Accounts))}
	accounts := make(map[solana.PublicKey]Account, len(snapshot.Accounts))
	for key, acct := range snapshot.Accounts {
		addr, err := solana.PublicKeyFromBase58(key)
		if err != nil {
			addr = acct.Address
		}
		acct.Address = addr
		accounts[addr] = acct.Clone()
		next.Accounts[addr.String()] = acct.Clone()
	}
	s.gate.Lock()
	defer s.gate.Unlock()
	if write != nil {
		upserts, deletes := Diff(s.ExportState(), next)
		if len(upserts) > 0 || len(deletes) > 0 {
			if err := write(ctx, upserts, deletes); err != nil {
				return err
			}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = accounts
	return nil
}

// RunInTransaction executes fn against a copy-on-write overlay while holding
// the declared account locks. The overlay is committed only when fn succeeds
// and no blocking rule violation is reported.
func (s *Store) RunInTransaction(ctx context.Context, locks LockSet, fn func(tx Transaction) error) (Result, error) {
	return s.RunDurable(ctx, locks, nil, fn)
}

// RunDurable behaves like RunInTransaction and additionally hands the net
// changes to write before committing them. The account locks are held across
// the write, so a failed write leaves the committed state untouched.
func (s *Store) RunDurable(ctx context.Context, locks LockSet, write WriteFunc, fn func(tx Transaction) error) (Result, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	entries := normalize(locks.Writable, locks.Readonly)
	release, err := s.locks.acquire(ctx, entries)
	if err != nil {
		return Result{}, err
	}
	defer release()

	tx := newTransaction(s, entries)
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	changes := tx.netChanges()
	var result Result
	if s.engine != nil && len(changes) > 0 {
		res, err := s.engine.Evaluate(ctx, tx.Snapshot(), changes)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate rules: %w", err)
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if write != nil && len(changes) > 0 {
		upserts, deletes := splitChanges(changes)
		if err := write(context.WithoutCancel(ctx), upserts, deletes); err != nil {
			return result, fmt.Errorf("persist: %w", err)
		}
	}
	s.commit(tx)
	return result, nil
}

func splitChanges(changes []Change) (upserts []Account, deletes []solana.PublicKey) {
	for _, c := range changes {
		if c.Action == domain.ActionDelete {
			deletes = append(deletes, c.Address)
			continue
		}
		upserts = append(upserts, c.After.Clone())
	}
	return upserts, deletes
}

func (s *Store) commit(tx *transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, addr := range tx.order {
		if acct := tx.writes[addr]; acct != nil {
			s.accounts[addr] = acct.Clone()
			continue
		}
		delete(s.accounts, addr)
	}
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := make(map[solana.PublicKey]Account, len(s.accounts))
	for addr, acct := range s.accounts {
		snapshot[addr] = acct.Clone()
	}
	s.mu.RUnlock()
	return fn(staticView{accounts: snapshot})
}

// GetAccount returns a committed account by address.
func (s *Store) GetAccount(address solana.PublicKey) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[address]
	if !ok {
		return Account{}, false
	}
	return acct.Clone(), true
}

// ListAccounts returns every committed account ordered by address.
func (s *Store) ListAccounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct.Clone())
	}
	sortAccounts(out)
	return out
}

func (s *Store) committed(address solana.PublicKey) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[address]
	return acct, ok
}

func (s *Store) committedByOwner(owner solana.PublicKey) map[solana.PublicKey]Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[solana.PublicKey]Account)
	for addr, acct := range s.accounts {
		if acct.Owner == owner {
			out[addr] = acct.Clone()
		}
	}
	return out
}

func sortAccounts(accounts []Account) {
	slices.SortFunc(accounts, func(a, b Account) int {
		return bytes.Compare(a.Address[:], b.Address[:])
	})
}

type staticView struct {
	accounts map[solana.PublicKey]Account
}

func (v staticView) FindAccount(address solana.PublicKey) (Account, bool) {
	acct, ok := v.accounts[address]
	if !ok {
		return Account{}, false
	}
	return acct.Clone(), true
}

func (v staticView) ListAccounts() []Account {
	out := make([]Account, 0, len(v.accounts))
	for _, acct := range v.accounts {
		out = append(out, acct.Clone())
	}
	sortAccounts(out)
	return out
}

func (v staticView) ListAccountsByOwner(owner solana.PublicKey) []Account {
	var out []Account
	for _, acct := range v.accounts {
		if acct.Owner == owner {
			out = append(out, acct.Clone())
		}
	}
	sortAccounts(out)
	return out
}
