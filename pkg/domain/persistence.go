package domain

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// Errors shared by every persistence backend.
var (
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountNotWritable = errors.New("account not locked for writing")
)

// LockSet declares the accounts a transaction touches. Writable accounts are
// locked exclusively, read-only ones shared. An address present in both is
// treated as writable.
type LockSet struct {
	Writable []solana.PublicKey
	Readonly []solana.PublicKey
}

// Transaction exposes the account operations a persistence implementation
// must support within an atomic scope. Mutations are only permitted on
// accounts declared writable in the transaction's LockSet.
type Transaction interface {
	Snapshot() TransactionView
	FindAccount(address solana.PublicKey) (Account, bool)
	CreateAccount(Account) (Account, error)
	UpdateAccount(address solana.PublicKey, mutator func(*Account) error) (Account, error)
	DeleteAccount(address solana.PublicKey) error
}

// TransactionView provides read-only access to account state.
type TransactionView interface {
	RuleView
	ListAccounts() []Account
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, locks LockSet, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetAccount(address solana.PublicKey) (Account, bool)
	ListAccounts() []Account
}
