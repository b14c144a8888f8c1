// Package system implements the ledger's native account-creation and
// lamport-transfer program.
package system

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"craftskins/internal/ledger"
	"craftskins/pkg/domain"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Instruction tags, little-endian u32 as on the native program.
const (
	InstructionCreateAccount uint32 = 0
	InstructionTransfer      uint32 = 2
)

// Errors returned by the system program.
var (
	ErrAccountAlreadyInUse = errors.New("system: account already in use")
	ErrInsufficientFunds   = errors.New("system: insufficient lamports")
	ErrRentNotExempt       = errors.New("system: balance below rent-exempt minimum")
	ErrMissingSigner       = errors.New("system: missing required signer")
	ErrInvalidInstruction  = errors.New("system: invalid instruction data")
	ErrNotEnoughAccounts   = errors.New("system: not enough account keys")
	ErrInvalidFunder       = errors.New("system: funding account not owned by system program")
)

type createAccountArgs struct {
	Tag      uint32
	Lamports uint64
	Space    uint64
	Owner    solana.PublicKey
}

type transferArgs struct {
	Tag      uint32
	Lamports uint64
}

// Program is the system program.
type Program struct{}

var _ ledger.Program = Program{}

// New returns the system program.
func New() Program { return Program{} }

// ID implements ledger.Program.
func (Program) ID() solana.PublicKey { return solana.SystemProgramID }

// Process implements ledger.Program.
func (p Program) Process(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	if len(data) < 4 {
		return ErrInvalidInstruction
	}
	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		var args createAccountArgs
		if err := bin.NewBorshDecoder(data).Decode(&args); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}
		return p.createAccount(ictx, accounts, args)
	case InstructionTransfer:
		var args transferArgs
		if err := bin.NewBorshDecoder(data).Decode(&args); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}
		return p.transfer(ictx, accounts, args.Lamports)
	default:
		return ErrInvalidInstruction
	}
}

// accounts: [funder (w,s), new account (w,s)]
func (Program) createAccount(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, args createAccountArgs) error {
	if len(accounts) < 2 {
		return ErrNotEnoughAccounts
	}
	funder, target := accounts[0].PublicKey, accounts[1].PublicKey
	if !ictx.IsSigner(funder) || !ictx.IsSigner(target) {
		return ErrMissingSigner
	}
	if _, exists := ictx.Account(target); exists {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInUse, target)
	}
	if !ictx.Rent().IsExempt(args.Lamports, args.Space) {
		return fmt.Errorf("%w: %d < %d", ErrRentNotExempt, args.Lamports, ictx.Rent().MinimumBalance(args.Space))
	}
	if err := debit(ictx, funder, args.Lamports); err != nil {
		return err
	}
	ictx.Log("create account %s (%d bytes) owned by %s", target, args.Space, args.Owner)
	return ictx.CreateAccount(domain.Account{
		Address:  target,
		Owner:    args.Owner,
		Lamports: args.Lamports,
		Data:     make([]byte, args.Space),
	})
}

// accounts: [from (w,s), to (w)]
func (Program) transfer(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, lamports uint64) error {
	if len(accounts) < 2 {
		return ErrNotEnoughAccounts
	}
	from, to := accounts[0].PublicKey, accounts[1].PublicKey
	if !ictx.IsSigner(from) {
		return ErrMissingSigner
	}
	if err := debit(ictx, from, lamports); err != nil {
		return err
	}
	return ictx.UpdateAccount(to, func(a *domain.Account) error {
		if a.Lamports > math.MaxUint64-lamports {
			return ledger.ErrLamportOverflow
		}
		a.Lamports += lamports
		return nil
	})
}

func debit(ictx *ledger.InvokeContext, from solana.PublicKey, lamports uint64) error {
	acct, ok := ictx.Account(from)
	if !ok {
		return fmt.Errorf("%w: %s has no account", ErrInsufficientFunds, from)
	}
	if acct.Owner != solana.SystemProgramID {
		return fmt.Errorf("%w: %s", ErrInvalidFunder, from)
	}
	if acct.Lamports < lamports {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, acct.Lamports, lamports)
	}
	return ictx.UpdateAccount(from, func(a *domain.Account) error {
		a.Lamports -= lamports
		return nil
	})
}

// NewCreateAccountInstruction funds and allocates a new account owned by owner.
func NewCreateAccountInstruction(funder, account solana.PublicKey, lamports, space uint64, owner solana.PublicKey) *solana.GenericInstruction {
	return solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(funder).WRITE().SIGNER(),
		solana.Meta(account).WRITE().SIGNER(),
	}, mustEncode(createAccountArgs{Tag: InstructionCreateAccount, Lamports: lamports, Space: space, Owner: owner}))
}

// NewTransferInstruction moves lamports between accounts.
func NewTransferInstruction(from, to solana.PublicKey, lamports uint64) *solana.GenericInstruction {
	return solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(from).WRITE().SIGNER(),
		solana.Meta(to).WRITE(),
	}, mustEncode(transferArgs{Tag: InstructionTransfer, Lamports: lamports}))
}

func mustEncode(v any) []byte {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		panic(fmt.Errorf("system: encode instruction: %w", err))
	}
	return buf.Bytes()
}
