package ledger

import (
	"bytes"
	"context"
	"fmt"

	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
)

// InvokeContext is handed to a program for one instruction. It exposes only
// the accounts passed to that instruction and carries the signer set the
// program was invoked with.
type InvokeContext struct {
	exec    *execution
	program solana.PublicKey
	metas   []*solana.AccountMeta
	signers map[solana.PublicKey]bool
	depth   int
}

// Context returns the submitting request's context.
func (c *InvokeContext) Context() context.Context { return c.exec.ctx }

// ProgramID returns the executing program.
func (c *InvokeContext) ProgramID() solana.PublicKey { return c.program }

// Rent returns the ledger rent parameters.
func (c *InvokeContext) Rent() Rent { return c.exec.ledger.rent }

// Depth returns 0 for top-level instructions and grows with each nested invocation.
func (c *InvokeContext) Depth() int { return c.depth }

// Log appends a program log line to the transaction receipt.
func (c *InvokeContext) Log(format string, args ...any) {
	c.exec.log("Program log: "+format, args...)
}

// IsSigner reports whether key signed this instruction, either directly or
// as a derived address of the invoking program.
func (c *InvokeContext) IsSigner(key solana.PublicKey) bool {
	return c.signers[key]
}

// IsWritable reports whether key was passed writable to this instruction.
func (c *InvokeContext) IsWritable(key solana.PublicKey) bool {
	for _, meta := range c.metas {
		if meta.PublicKey == key && meta.IsWritable {
			return true
		}
	}
	return false
}

func (c *InvokeContext) passed(key solana.PublicKey) bool {
	for _, meta := range c.metas {
		if meta.PublicKey == key {
			return true
		}
	}
	return false
}

// Account returns the current state of an account passed to the
// instruction, including uncommitted writes of this transaction.
func (c *InvokeContext) Account(key solana.PublicKey) (domain.Account, bool) {
	if !c.passed(key) {
		return domain.Account{}, false
	}
	return c.exec.tx.FindAccount(key)
}

// UpdateAccount mutates a writable account. Only the owning program may change
// data or owner or debit lamports; any program may credit lamports.
func (c *InvokeContext) UpdateAccount(key solana.PublicKey, mutator func(*domain.Account) error) error {
	if !c.IsWritable(key) {
		return fmt.Errorf("%w: %s", ErrReadonlyAccount, key)
	}
	_, err := c.exec.tx.UpdateAccount(key, func(acct *domain.Account) error {
		before := acct.Clone()
		if err := mutator(acct); err != nil {
			return err
		}
		if before.Owner == c.program {
			return nil
		}
		if acct.Owner != before.Owner || acct.Lamports < before.Lamports || !bytes.Equal(acct.Data, before.Data) {
			return fmt.Errorf("%w: %s", ErrExternalAccountModified, key)
		}
		return nil
	})
	return err
}

// CreateAccount stores a new account. Restricted to the system program.
func (c *InvokeContext) CreateAccount(acct domain.Account) error {
	if c.program != solana.SystemProgramID {
		return ErrAccountCreationDenied
	}
	if !c.IsWritable(acct.Address) {
		return fmt.Errorf("%w: %s", ErrReadonlyAccount, acct.Address)
	}
	_, err := c.exec.tx.CreateAccount(acct)
	return err
}

// Invoke calls another program. Each entry of signerSeeds is the full seed
// list, bump included, of a derived address of the calling program that
// signs the nested instruction.
func (c *InvokeContext) Invoke(ix solana.Instruction, signerSeeds ...[][]byte) error {
	if c.depth+1 > MaxCallDepth {
		return ErrCallDepth
	}
	derived := make(map[solana.PublicKey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		addr, err := solana.CreateProgramAddress(seeds, c.program)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		derived[addr] = true
	}
	if !c.passed(ix.ProgramID()) {
		return fmt.Errorf("%w: program %s", ErrAccountNotDeclared, ix.ProgramID())
	}
	data, err := ix.Data()
	if err != nil {
		return err
	}
	metas := ix.Accounts()
	signers := make(map[solana.PublicKey]bool)
	for _, meta := range metas {
		if !c.passed(meta.PublicKey) {
			return fmt.Errorf("%w: %s", ErrAccountNotDeclared, meta.PublicKey)
		}
		if meta.IsWritable && !c.IsWritable(meta.PublicKey) {
			return fmt.Errorf("%w: %s is not writable", ErrPrivilegeEscalation, meta.PublicKey)
		}
		if meta.IsSigner {
			if !c.IsSigner(meta.PublicKey) && !derived[meta.PublicKey] {
				return fmt.Errorf("%w: %s did not sign", ErrPrivilegeEscalation, meta.PublicKey)
			}
			signers[meta.PublicKey] = true
		}
	}
	return c.exec.invoke(ix.ProgramID(), metas, data, signers, c.depth+1)
}
