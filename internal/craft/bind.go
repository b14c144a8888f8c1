package craft

import (
	"fmt"

	"craftskins/internal/ledger"
	"craftskins/internal/programs/token"

	"github.com/gagliardetto/solana-go"
)

// bindSkin confirms that a skin's verified collection points at an existing
// recipe. The binding itself lives in the skin's metadata; the recipe is not
// touched. A non-zero deposit stocks the skin vault from the
// administrator's source account.
func (p *Program) bindSkin(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, args BindSkinArgs) error {
	if len(accounts) < bindSkinAccounts {
		return ErrAccountNotEnoughKeys
	}
	admin := accounts[BindSkinAdministrator].PublicKey
	recipeMint := accounts[BindSkinRecipeMint].PublicKey
	skinMint := accounts[BindSkinSkinMint].PublicKey

	if err := p.authorize(ictx, admin, accounts[BindSkinProgramManager].PublicKey); err != nil {
		return err
	}
	expected, _, err := RecipeAddress(p.id, recipeMint)
	if err != nil {
		return err
	}
	if accounts[BindSkinRecipe].PublicKey != expected {
		return fmt.Errorf("%w: recipe", ErrDerivedKeyInvalid)
	}
	if _, err := p.loadRecipe(ictx, expected, recipeMint); err != nil {
		return err
	}

	md, err := readMetadata(ictx, accounts[BindSkinSkinMetadata].PublicKey, skinMint)
	if err != nil {
		return err
	}
	if !md.HasCollection || md.Collection.Key != recipeMint {
		return ErrCollectionMismatch
	}
	if !md.Collection.Verified {
		return ErrUnverified
	}

	authority, _, err := EscrowAuthorityAddress(p.id)
	if err != nil {
		return err
	}
	if accounts[BindSkinEscrowAuthority].PublicKey != authority {
		return fmt.Errorf("%w: escrow authority", ErrDerivedKeyInvalid)
	}
	vault, _, err := EscrowTokenAddress(p.id, skinMint)
	if err != nil {
		return err
	}
	if accounts[BindSkinVault].PublicKey != vault {
		return fmt.Errorf("%w: skin vault", ErrDerivedKeyInvalid)
	}

	if args.Deposit > 0 {
		source := accounts[BindSkinSource].PublicKey
		src, err := token.LoadAccount(ictx, source)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTokenOwnerInvalid, err)
		}
		if src.Mint != skinMint {
			return ErrTokenMintInvalid
		}
		if src.Owner != admin {
			return ErrTokenOwnerInvalid
		}
		if src.Amount < args.Deposit {
			return ErrTokenAmountInvalid
		}
		create, err := token.NewCreateAssociatedInstruction(admin, authority, skinMint, true)
		if err != nil {
			return err
		}
		if err := ictx.Invoke(create); err != nil {
			return err
		}
		if err := ictx.Invoke(token.NewTransferInstruction(source, vault, admin, args.Deposit)); err != nil {
			return err
		}
	}
	ictx.Log("skin %s bound to recipe %s, deposit %d", skinMint, recipeMint, args.Deposit)
	return nil
}
