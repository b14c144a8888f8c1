package craft

import (
	"fmt"

	"craftskins/internal/ledger"
	"craftskins/internal/programs/token"

	"github.com/gagliardetto/solana-go"
)

// IngredientAccounts is one triple of the trailing craft_skin accounts.
type IngredientAccounts struct {
	UserAccount solana.PublicKey
	Mint        solana.PublicKey
	Escrow      solana.PublicKey
}

// splitIngredients groups the trailing accounts into triples. The count must
// match the recipe exactly.
func splitIngredients(rest []*solana.AccountMeta, k int) ([]IngredientAccounts, error) {
	if len(rest) != 3*k {
		return nil, fmt.Errorf("%w: got %d accounts for %d ingredients", ErrInvalidRemainingAccounts, len(rest), k)
	}
	out := make([]IngredientAccounts, k)
	for i := range out {
		out[i] = IngredientAccounts{
			UserAccount: rest[3*i].PublicKey,
			Mint:        rest[3*i+1].PublicKey,
			Escrow:      rest[3*i+2].PublicKey,
		}
	}
	return out, nil
}

// debit is a validated ingredient transfer.
type debit struct {
	from   solana.PublicKey
	mint   solana.PublicKey
	escrow solana.PublicKey
	amount uint64
	create bool
}

// craftSkin exchanges the recipe's ingredients for one unit of the skin.
// Every triple is checked before the first transfer is issued.
func (p *Program) craftSkin(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta) error {
	if len(accounts) < craftSkinAccounts {
		return ErrAccountNotEnoughKeys
	}
	user := accounts[CraftSkinUser].PublicKey
	skinMint := accounts[CraftSkinSkinMint].PublicKey
	if err := requireSigner(ictx, user); err != nil {
		return err
	}

	md, err := readMetadata(ictx, accounts[CraftSkinSkinMetadata].PublicKey, skinMint)
	if err != nil {
		if code, ok := CodeOf(err); ok && code == ErrNotInitialized {
			return ErrUnboundSkin
		}
		return err
	}
	collection, ok := md.VerifiedCollection()
	if !ok {
		return ErrUnboundSkin
	}
	recipe, err := p.loadRecipe(ictx, accounts[CraftSkinRecipe].PublicKey, collection)
	if err != nil {
		return err
	}

	triples, err := splitIngredients(accounts[craftSkinAccounts:], len(recipe.IngredientMints))
	if err != nil {
		return err
	}
	authority, authorityBump, err := EscrowAuthorityAddress(p.id)
	if err != nil {
		return err
	}
	if accounts[CraftSkinEscrowAuthority].PublicKey != authority {
		return fmt.Errorf("%w: escrow authority", ErrDerivedKeyInvalid)
	}

	debits, err := p.validateIngredients(ictx, user, authority, recipe, triples)
	if err != nil {
		return err
	}

	vault, _, err := EscrowTokenAddress(p.id, skinMint)
	if err != nil {
		return err
	}
	if accounts[CraftSkinVault].PublicKey != vault {
		return fmt.Errorf("%w: skin vault", ErrDerivedKeyInvalid)
	}
	stock, err := token.LoadAccount(ictx, vault)
	if err != nil || stock.Mint != skinMint || stock.Owner != authority || stock.Amount == 0 {
		return ErrSkinUnavailable
	}
	userSkin, _, err := solana.FindAssociatedTokenAddress(user, skinMint)
	if err != nil {
		return err
	}
	if accounts[CraftSkinUserSkinAccount].PublicKey != userSkin {
		return fmt.Errorf("%w: user skin account", ErrDerivedKeyInvalid)
	}
	for _, key := range []solana.PublicKey{vault, userSkin} {
		if err := requireWritable(ictx, key); err != nil {
			return err
		}
	}

	for _, d := range debits {
		if d.create {
			ix, err := token.NewCreateAssociatedInstruction(user, authority, d.mint, true)
			if err != nil {
				return err
			}
			if err := ictx.Invoke(ix); err != nil {
				return err
			}
		}
		if err := ictx.Invoke(token.NewTransferInstruction(d.from, d.escrow, user, d.amount)); err != nil {
			return err
		}
	}

	create, err := token.NewCreateAssociatedInstruction(user, user, skinMint, true)
	if err != nil {
		return err
	}
	if err := ictx.Invoke(create); err != nil {
		return err
	}
	transfer := token.NewTransferInstruction(vault, userSkin, authority, 1)
	if err := ictx.Invoke(transfer, [][]byte{SignerSeed, {authorityBump}}); err != nil {
		return err
	}
	ictx.Log("crafted skin %s for %s from recipe %s", skinMint, user, collection)
	return nil
}

// validateIngredients checks each triple against the stored recipe in order.
// The mint comes first, then the escrow address, then the user's balance.
// Balances are accumulated per user account so one account cannot back two
// ingredients beyond what it holds.
func (p *Program) validateIngredients(ictx *ledger.InvokeContext, user, authority solana.PublicKey, recipe Recipe, triples []IngredientAccounts) ([]debit, error) {
	required := make(map[solana.PublicKey]uint64, len(triples))
	seenEscrow := make(map[solana.PublicKey]bool, len(triples))
	debits := make([]debit, 0, len(triples))
	for i, t := range triples {
		wantMint := recipe.IngredientMints[i]
		amount := recipe.IngredientAmounts[i]
		if t.Mint != wantMint {
			return nil, ingredientErr(ErrIngredientMismatch, i)
		}

		escrow, _, err := EscrowTokenAddress(p.id, wantMint)
		if err != nil {
			return nil, err
		}
		if t.Escrow != escrow {
			return nil, ingredientErr(ErrInvalidEscrow, i)
		}
		create := false
		if _, exists := ictx.Account(escrow); exists {
			held, err := token.LoadAccount(ictx, escrow)
			if err != nil || held.Owner != authority || held.Mint != wantMint {
				return nil, ingredientErr(ErrInvalidEscrow, i)
			}
		} else if !seenEscrow[escrow] {
			create = true
		}
		seenEscrow[escrow] = true

		held, err := token.LoadAccount(ictx, t.UserAccount)
		if err != nil || held.Owner != user {
			return nil, ingredientErr(ErrInsufficientIngredient, i)
		}
		if held.Mint != wantMint {
			return nil, ingredientErr(ErrIngredientMismatch, i)
		}
		total := required[t.UserAccount] + amount
		if total < amount || held.Amount < total {
			return nil, ingredientErr(ErrInsufficientIngredient, i)
		}
		required[t.UserAccount] = total

		for _, key := range []solana.PublicKey{t.UserAccount, escrow} {
			if err := requireWritable(ictx, key); err != nil {
				return nil, err
			}
		}
		debits = append(debits, debit{from: t.UserAccount, mint: wantMint, escrow: escrow, amount: amount, create: create})
	}
	return debits, nil
}
