package token

import (
	"fmt"

	"craftskins/internal/ledger"
	"craftskins/internal/programs/system"

	"github.com/gagliardetto/solana-go"
)

// Associated token instruction tags. An empty payload means Create.
const (
	AssociatedCreate           uint8 = 0
	AssociatedCreateIdempotent uint8 = 1
)

// AssociatedProgram creates token accounts at the address derived from
// (wallet, token program, mint).
type AssociatedProgram struct{}

var _ ledger.Program = AssociatedProgram{}

// NewAssociated returns the associated token account program.
func NewAssociated() AssociatedProgram { return AssociatedProgram{} }

// ID implements ledger.Program.
func (AssociatedProgram) ID() solana.PublicKey { return solana.SPLAssociatedTokenAccountProgramID }

// Process implements ledger.Program.
//
// accounts: [payer (w,s), associated account (w), wallet, mint, system program, token program]
func (AssociatedProgram) Process(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	idempotent := false
	if len(data) > 0 {
		switch data[0] {
		case AssociatedCreate:
		case AssociatedCreateIdempotent:
			idempotent = true
		default:
			return ErrInvalidInstruction
		}
	}
	if len(accounts) < 6 {
		return ErrNotEnoughAccounts
	}
	payer, target, wallet, mint := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey, accounts[3].PublicKey

	expected, bump, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
	}
	if expected != target {
		return fmt.Errorf("%w: got %s, want %s", ErrInvalidSeeds, target, expected)
	}
	if _, exists := ictx.Account(target); exists {
		if !idempotent {
			return fmt.Errorf("%w: %s", ErrAlreadyInUse, target)
		}
		existing, err := LoadAccount(ictx, target)
		if err != nil {
			return err
		}
		if existing.Owner != wallet || existing.Mint != mint {
			return fmt.Errorf("%w: %s", ErrAlreadyInUse, target)
		}
		return nil
	}
	if _, err := LoadMint(ictx, mint); err != nil {
		return err
	}

	lamports := ictx.Rent().MinimumBalance(AccountSize)
	seeds := [][]byte{wallet[:], solana.TokenProgramID[:], mint[:], {bump}}
	if err := ictx.Invoke(system.NewCreateAccountInstruction(payer, target, lamports, AccountSize, solana.TokenProgramID), seeds); err != nil {
		return err
	}
	return ictx.Invoke(NewInitializeAccountInstruction(target, mint, wallet))
}

// NewCreateAssociatedInstruction creates the associated token account of
// wallet for mint, paid by payer. With idempotent set an existing matching
// account is accepted.
func NewCreateAssociatedInstruction(payer, wallet, mint solana.PublicKey, idempotent bool) (*solana.GenericInstruction, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return nil, err
	}
	tag := AssociatedCreate
	if idempotent {
		tag = AssociatedCreateIdempotent
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(wallet),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
	}, []byte{tag}), nil
}
