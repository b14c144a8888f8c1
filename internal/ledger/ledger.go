// Package ledger executes signed transactions against an account store. It
// dispatches instructions to registered programs, enforces signer and
// writable privileges, lets programs sign for derived addresses during
// cross-program invocation and commits all effects of a transaction or none.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
)

// MaxCallDepth bounds nested cross-program invocations below a top-level
// instruction.
const MaxCallDepth = 4

// Program is an on-ledger program. Process receives the instruction's
// account metas in the order the caller supplied them.
type Program interface {
	ID() solana.PublicKey
	Process(ictx *InvokeContext, accounts []*solana.AccountMeta, data []byte) error
}

// Receipt summarizes an executed transaction. Logs are populated for failed
// transactions as well.
type Receipt struct {
	Signature solana.Signature
	Slot      uint64
	Logs      []string
	Result    domain.Result
}

// Ledger is the transaction processor.
type Ledger struct {
	store    domain.PersistentStore
	mu       sync.RWMutex
	programs map[solana.PublicKey]Program
	rent     Rent
	slot     atomic.Uint64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRent overrides the rent parameters.
func WithRent(r Rent) Option {
	return func(l *Ledger) { l.rent = r }
}

// New constructs a ledger over store with no programs registered.
func New(store domain.PersistentStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		programs: make(map[solana.PublicKey]Program),
		rent:     DefaultRent(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register makes programs invocable. A later registration with the same id
// replaces the earlier one.
func (l *Ledger) Register(programs ...Program) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range programs {
		l.programs[p.ID()] = p
	}
}

// Program looks up a registered program.
func (l *Ledger) Program(id solana.PublicKey) (Program, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.programs[id]
	return p, ok
}

func (l *Ledger) isProgram(id solana.PublicKey) bool {
	_, ok := l.Program(id)
	return ok
}

// Store returns the backing account store.
func (l *Ledger) Store() domain.PersistentStore { return l.store }

// Rent returns the rent parameters.
func (l *Ledger) Rent() Rent { return l.rent }

// Slot returns the number of committed transactions.
func (l *Ledger) Slot() uint64 { return l.slot.Load() }

// Account returns committed account state.
func (l *Ledger) Account(address solana.PublicKey) (domain.Account, bool) {
	return l.store.GetAccount(address)
}

// Fund credits lamports to address, creating a system-owned account when
// none exists.
func (l *Ledger) Fund(ctx context.Context, address solana.PublicKey, lamports uint64) error {
	_, err := l.store.RunInTransaction(ctx, domain.LockSet{Writable: []solana.PublicKey{address}}, func(tx domain.Transaction) error {
		if _, ok := tx.FindAccount(address); !ok {
			_, err := tx.CreateAccount(domain.Account{Address: address, Owner: solana.SystemProgramID, Lamports: lamports})
			return err
		}
		_, err := tx.UpdateAccount(address, func(a *domain.Account) error {
			if a.Lamports > math.MaxUint64-lamports {
				return ErrLamportOverflow
			}
			a.Lamports += lamports
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("fund %s: %w", address, err)
	}
	l.slot.Add(1)
	return nil
}

type access struct {
	writable bool
	signer   bool
}

// Submit verifies tx and executes its instructions in order inside a single
// store transaction. Any failure discards every effect.
func (l *Ledger) Submit(ctx context.Context, tx *Transaction) (Receipt, error) {
	receipt := Receipt{Signature: tx.Signature()}
	if len(tx.Instructions) == 0 {
		return receipt, ErrEmptyTransaction
	}
	signed, err := tx.verify()
	if err != nil {
		return receipt, err
	}

	declared := map[solana.PublicKey]access{tx.FeePayer: {writable: true, signer: true}}
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts() {
			a := declared[meta.PublicKey]
			a.writable = a.writable || meta.IsWritable
			a.signer = a.signer || meta.IsSigner
			declared[meta.PublicKey] = a
		}
	}
	var locks domain.LockSet
	for key, a := range declared {
		switch {
		case a.writable:
			locks.Writable = append(locks.Writable, key)
		case !l.isProgram(key):
			locks.Readonly = append(locks.Readonly, key)
		}
	}

	exec := &execution{ledger: l, ctx: ctx, declared: declared}
	res, err := l.store.RunInTransaction(ctx, locks, func(stx domain.Transaction) error {
		exec.tx = stx
		for i, ix := range tx.Instructions {
			data, err := ix.Data()
			if err != nil {
				return &InstructionError{Index: i, Program: ix.ProgramID(), Err: err}
			}
			metas := ix.Accounts()
			signers := make(map[solana.PublicKey]bool)
			for _, meta := range metas {
				if meta.IsSigner && signed[meta.PublicKey] {
					signers[meta.PublicKey] = true
				}
			}
			if err := exec.invoke(ix.ProgramID(), metas, data, signers, 0); err != nil {
				return &InstructionError{Index: i, Program: ix.ProgramID(), Err: err}
			}
		}
		return nil
	})
	receipt.Logs = exec.logs
	receipt.Result = res
	if err != nil {
		return receipt, err
	}
	receipt.Slot = l.slot.Add(1)
	return receipt, nil
}

// execution carries per-transaction state shared by every invocation.
type execution struct {
	ledger   *Ledger
	ctx      context.Context
	tx       domain.Transaction
	declared map[solana.PublicKey]access
	logs     []string
}

func (e *execution) log(format string, args ...any) {
	e.logs = append(e.logs, fmt.Sprintf(format, args...))
}

func (e *execution) invoke(programID solana.PublicKey, metas []*solana.AccountMeta, data []byte, signers map[solana.PublicKey]bool, depth int) error {
	program, ok := e.ledger.Program(programID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, programID)
	}
	for _, meta := range metas {
		if _, ok := e.declared[meta.PublicKey]; !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotDeclared, meta.PublicKey)
		}
	}
	if err := e.ctx.Err(); err != nil {
		return err
	}
	e.log("Program %s invoke [%d]", programID, depth+1)
	ictx := &InvokeContext{exec: e, program: programID, metas: metas, signers: signers, depth: depth}
	if err := program.Process(ictx, metas, data); err != nil {
		e.log("Program %s failed: %v", programID, err)
		return err
	}
	e.log("Program %s success", programID)
	return nil
}
