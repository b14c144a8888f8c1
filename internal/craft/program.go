// Package craft implements the crafting program: a program manager
// singleton, recipes keyed by recipe mint, escrow accounts held by a derived
// signer and the atomic ingredient-for-skin exchange.
package craft

import (
	"errors"
	"fmt"

	"craftskins/internal/ledger"
	"craftskins/internal/programs/system"
	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the address the program is deployed at unless
// configured otherwise.
var DefaultProgramID = solana.MustPublicKeyFromBase58("34FUZfjWu2jMkBti3sKDrHH3rWRS3MjhWC5xjBps6cku")

// Program is the crafting program.
type Program struct {
	id solana.PublicKey
}

var _ ledger.Program = (*Program)(nil)

// NewProgram returns the program deployed at id.
func NewProgram(id solana.PublicKey) *Program {
	return &Program{id: id}
}

// ID implements ledger.Program.
func (p *Program) ID() solana.PublicKey { return p.id }

// Process implements ledger.Program.
func (p *Program) Process(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	if len(data) < DiscriminatorSize {
		return ErrInstructionMissing
	}
	var d Discriminator
	copy(d[:], data)
	switch d {
	case InitializeDiscriminator:
		return p.initialize(ictx, accounts)
	case CreateRecipeDiscriminator:
		var args CreateRecipeArgs
		if err := decodeArgs(data, &args); err != nil {
			return err
		}
		return p.createRecipe(ictx, accounts, args)
	case BindSkinDiscriminator:
		var args BindSkinArgs
		if err := decodeArgs(data, &args); err != nil {
			return err
		}
		return p.bindSkin(ictx, accounts, args)
	case CraftSkinDiscriminator:
		return p.craftSkin(ictx, accounts)
	default:
		return ErrInstructionFallbackNotFound
	}
}

func (p *Program) initialize(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta) error {
	if len(accounts) < initializeAccounts {
		return ErrAccountNotEnoughKeys
	}
	admin := accounts[InitializeAdministrator].PublicKey
	if err := requireSigner(ictx, admin); err != nil {
		return err
	}
	managerKey, bump, err := ProgramManagerAddress(p.id)
	if err != nil {
		return err
	}
	if accounts[InitializeProgramManager].PublicKey != managerKey {
		return fmt.Errorf("%w: program manager", ErrDerivedKeyInvalid)
	}
	if _, exists := ictx.Account(managerKey); exists {
		return ErrAlreadyInitialized
	}
	data, err := EncodeProgramManager(ProgramManager{Administrator: admin, Bump: bump})
	if err != nil {
		return err
	}
	if err := p.allocate(ictx, admin, managerKey, data, [][]byte{ManagerSeed, {bump}}); err != nil {
		return err
	}
	ictx.Log("program manager initialized, administrator %s", admin)
	return nil
}

// allocate creates a program-owned account at a derived address, paid by
// payer, and stores data in it.
func (p *Program) allocate(ictx *ledger.InvokeContext, payer, address solana.PublicKey, data []byte, seeds [][]byte) error {
	space := uint64(len(data))
	lamports := ictx.Rent().MinimumBalance(space)
	ix := system.NewCreateAccountInstruction(payer, address, lamports, space, p.id)
	if err := ictx.Invoke(ix, seeds); err != nil {
		if errors.Is(err, system.ErrInsufficientFunds) {
			return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}
		return err
	}
	return ictx.UpdateAccount(address, func(a *domain.Account) error {
		a.Data = data
		return nil
	})
}

// loadManager reads the manager at its derived address.
func (p *Program) loadManager(ictx *ledger.InvokeContext, key solana.PublicKey) (ProgramManager, error) {
	expected, _, err := ProgramManagerAddress(p.id)
	if err != nil {
		return ProgramManager{}, err
	}
	if key != expected {
		return ProgramManager{}, fmt.Errorf("%w: program manager", ErrDerivedKeyInvalid)
	}
	acct, ok := ictx.Account(key)
	if !ok {
		return ProgramManager{}, fmt.Errorf("%w: program manager", ErrNotInitialized)
	}
	if acct.Owner != p.id {
		return ProgramManager{}, ErrAccountNotProgramOwned
	}
	return DecodeProgramManager(acct.Data)
}

// authorize checks that admin signed and is the recorded administrator.
func (p *Program) authorize(ictx *ledger.InvokeContext, admin, managerKey solana.PublicKey) error {
	if err := requireSigner(ictx, admin); err != nil {
		return err
	}
	manager, err := p.loadManager(ictx, managerKey)
	if err != nil {
		return err
	}
	if manager.Administrator != admin {
		return ErrUnauthorized
	}
	return nil
}

// loadRecipe reads the recipe of recipeMint from key. A missing account or a
// key that is not the recipe's derived address is RecipeNotFound.
func (p *Program) loadRecipe(ictx *ledger.InvokeContext, key, recipeMint solana.PublicKey) (Recipe, error) {
	expected, _, err := RecipeAddress(p.id, recipeMint)
	if err != nil {
		return Recipe{}, err
	}
	if key != expected {
		return Recipe{}, ErrRecipeNotFound
	}
	acct, ok := ictx.Account(key)
	if !ok {
		return Recipe{}, ErrRecipeNotFound
	}
	if acct.Owner != p.id {
		return Recipe{}, ErrAccountNotProgramOwned
	}
	return DecodeRecipe(acct.Data)
}

func requireSigner(ictx *ledger.InvokeContext, key solana.PublicKey) error {
	if !ictx.IsSigner(key) {
		return fmt.Errorf("%w: %s", ErrAccountNotSigner, key)
	}
	return nil
}

func requireWritable(ictx *ledger.InvokeContext, key solana.PublicKey) error {
	if !ictx.IsWritable(key) {
		return fmt.Errorf("%w: %s", ErrAccountNotMutable, key)
	}
	return nil
}
