package ledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Runtime errors. Programs may return any error; these are raised by the
// runtime itself while checking signatures and account privileges.
var (
	ErrEmptyTransaction        = errors.New("transaction has no instructions")
	ErrMissingSignature        = errors.New("missing required signature")
	ErrInvalidSignature        = errors.New("signature verification failed")
	ErrUnknownProgram          = errors.New("unknown program")
	ErrAccountNotDeclared      = errors.New("account not passed to instruction")
	ErrReadonlyAccount         = errors.New("instruction modified a read-only account")
	ErrExternalAccountModified = errors.New("instruction modified an account it does not own")
	ErrAccountCreationDenied   = errors.New("only the system program may create accounts")
	ErrPrivilegeEscalation     = errors.New("cross-program invocation privilege escalation")
	ErrCallDepth               = errors.New("cross-program invocation depth exceeded")
	ErrInvalidSeeds            = errors.New("seeds do not produce a valid program address")
	ErrLamportOverflow         = errors.New("lamport balance overflow")
)

// InstructionError reports the failing instruction of a transaction.
type InstructionError struct {
	Index   int
	Program solana.PublicKey
	Err     error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d (program %s): %v", e.Index, e.Program, e.Err)
}

// Unwrap exposes the program or runtime error.
func (e *InstructionError) Unwrap() error { return e.Err }
