package memory

import (
	"fmt"

	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
)

// transaction is a copy-on-write overlay over the committed accounts. A nil
// entry in writes marks a deleted account.
type transaction struct {
	store    *Store
	writable map[solana.PublicKey]bool
	writes   map[solana.PublicKey]*Account
	origin   map[solana.PublicKey]*Account
	order    []solana.PublicKey
}

func newTransaction(store *Store, entries []lockEntry) *transaction {
	writable := make(map[solana.PublicKey]bool, len(entries))
	for _, e := range entries {
		if e.writable {
			writable[e.address] = true
		}
	}
	return &transaction{
		store:    store,
		writable: writable,
		writes:   make(map[solana.PublicKey]*Account),
		origin:   make(map[solana.PublicKey]*Account),
	}
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return txView{tx: tx}
}

// FindAccount resolves an account through the overlay.
func (tx *transaction) FindAccount(address solana.PublicKey) (Account, bool) {
	if acct, ok := tx.writes[address]; ok {
		if acct == nil {
			return Account{}, false
		}
		return acct.Clone(), true
	}
	acct, ok := tx.store.committed(address)
	if !ok {
		return Account{}, false
	}
	return acct.Clone(), true
}

// CreateAccount stores a new account; the address must be unused.
func (tx *transaction) CreateAccount(acct Account) (Account, error) {
	if err := tx.checkWritable(acct.Address); err != nil {
		return Account{}, err
	}
	if _, exists := tx.FindAccount(acct.Address); exists {
		return Account{}, fmt.Errorf("%w: %s", domain.ErrAccountExists, acct.Address)
	}
	tx.put(acct.Address, acct.Clone())
	return acct.Clone(), nil
}

// UpdateAccount applies mutator to a copy of the account and stores the
// result. The address cannot be changed by the mutator.
func (tx *transaction) UpdateAccount(address solana.PublicKey, mutator func(*Account) error) (Account, error) {
	if err := tx.checkWritable(address); err != nil {
		return Account{}, err
	}
	current, ok := tx.FindAccount(address)
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, address)
	}
	if err := mutator(&current); err != nil {
		return Account{}, err
	}
	current.Address = address
	tx.put(address, current)
	return current.Clone(), nil
}

// DeleteAccount removes an account from the overlay.
func (tx *transaction) DeleteAccount(address solana.PublicKey) error {
	if err := tx.checkWritable(address); err != nil {
		return err
	}
	if _, ok := tx.FindAccount(address); !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, address)
	}
	tx.touch(address)
	tx.writes[address] = nil
	return nil
}

func (tx *transaction) checkWritable(address solana.PublicKey) error {
	if !tx.writable[address] {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotWritable, address)
	}
	return nil
}

func (tx *transaction) put(address solana.PublicKey, acct Account) {
	tx.touch(address)
	tx.writes[address] = &acct
}

// touch records the committed pre-state the first time an address is written.
func (tx *transaction) touch(address solana.PublicKey) {
	if _, seen := tx.origin[address]; seen {
		return
	}
	tx.order = append(tx.order, address)
	if acct, ok := tx.store.committed(address); ok {
		before := acct.Clone()
		tx.origin[address] = &before
		return
	}
	tx.origin[address] = nil
}

// netChanges collapses every write into one change per account, comparing
// the committed pre-state with the final overlay value.
func (tx *transaction) netChanges() []Change {
	changes := make([]Change, 0, len(tx.order))
	for _, addr := range tx.order {
		before, after := tx.origin[addr], tx.writes[addr]
		switch {
		case before == nil && after == nil:
			continue
		case before == nil:
			a := after.Clone()
			changes = append(changes, Change{Address: addr, Action: domain.ActionCreate, After: &a})
		case after == nil:
			b := before.Clone()
			changes = append(changes, Change{Address: addr, Action: domain.ActionDelete, Before: &b})
		default:
			if before.Equal(*after) {
				continue
			}
			b, a := before.Clone(), after.Clone()
			changes = append(changes, Change{Address: addr, Action: domain.ActionUpdate, Before: &b, After: &a})
		}
	}
	return changes
}

type txView struct {
	tx *transaction
}

func (v txView) FindAccount(address solana.PublicKey) (Account, bool) {
	return v.tx.FindAccount(address)
}

func (v txView) ListAccounts() []Account {
	v.tx.store.mu.RLock()
	merged := make(map[solana.PublicKey]Account, len(v.tx.store.accounts))
	for addr, acct := range v.tx.store.accounts {
		merged[addr] = acct
	}
	v.tx.store.mu.RUnlock()
	return v.overlay(merged, nil)
}

func (v txView) ListAccountsByOwner(owner solana.PublicKey) []Account {
	return v.overlay(v.tx.store.committedByOwner(owner), &owner)
}

func (v txView) overlay(base map[solana.PublicKey]Account, owner *solana.PublicKey) []Account {
	for addr, acct := range v.tx.writes {
		if acct == nil || (owner != nil && acct.Owner != *owner) {
			delete(base, addr)
			continue
		}
		base[addr] = *acct
	}
	out := make([]Account, 0, len(base))
	for _, acct := range base {
		out = append(out, acct.Clone())
	}
	sortAccounts(out)
	return out
}
