// Package domain defines the ledger-level types shared by the runtime, the
// persistence backends and the rules engine.
package domain

import (
	"bytes"
	"context"

	"github.com/gagliardetto/solana-go"
)

// Account is a single addressable ledger slot. Owner is the program allowed
// to mutate Data and debit Lamports.
type Account struct {
	Address  solana.PublicKey `json:"address"`
	Owner    solana.PublicKey `json:"owner"`
	Lamports uint64           `json:"lamports"`
	Data     []byte           `json:"data"`
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	out := a
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return out
}

// Equal reports whether two accounts hold identical state.
func (a Account) Equal(other Account) bool {
	return a.Address == other.Address &&
		a.Owner == other.Owner &&
		a.Lamports == other.Lamports &&
		bytes.Equal(a.Data, other.Data)
}

// IsOwnedBy reports whether program owns the account.
func (a Account) IsOwnedBy(program solana.PublicKey) bool {
	return a.Owner == program
}

// Action describes the kind of change applied to an account.
type Action string

// Account change actions recorded by transactions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change is the net effect of a transaction on one account. Before is nil for
// created accounts and After is nil for deleted ones.
type Change struct {
	Address solana.PublicKey
	Action  Action
	Before  *Account
	After   *Account
}

// Owner returns the owning program of whichever side of the change exists,
// preferring the post-state.
func (c Change) Owner() solana.PublicKey {
	if c.After != nil {
		return c.After.Owner
	}
	if c.Before != nil {
		return c.Before.Owner
	}
	return solana.PublicKey{}
}

// Snapshot captures a point-in-time copy of every account keyed by its
// base58 address.
type Snapshot struct {
	Accounts map[string]Account `json:"accounts"`
}

// Snapshotter is implemented by stores that can export and restore their
// complete state. RestoreState waits for running transactions and fails
// without effect when the new state cannot be stored.
type Snapshotter interface {
	ExportState() Snapshot
	RestoreState(ctx context.Context, snapshot Snapshot) error
}
