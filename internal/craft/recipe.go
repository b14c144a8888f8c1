package craft

import (
	"fmt"

	"craftskins/internal/ledger"
	"craftskins/internal/programs/metadata"
	"craftskins/internal/programs/token"

	"github.com/gagliardetto/solana-go"
)

func (p *Program) createRecipe(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, args CreateRecipeArgs) error {
	if len(accounts) < createRecipeAccounts {
		return ErrAccountNotEnoughKeys
	}
	admin := accounts[CreateRecipeAdministrator].PublicKey
	recipeKey := accounts[CreateRecipeRecipe].PublicKey
	recipeMint := accounts[CreateRecipeRecipeMint].PublicKey

	if err := p.authorize(ictx, admin, accounts[CreateRecipeProgramManager].PublicKey); err != nil {
		return err
	}
	recipe := Recipe{
		OwnerMint:         recipeMint,
		IngredientMints:   args.IngredientMints,
		IngredientAmounts: args.IngredientAmounts,
	}
	if err := recipe.Validate(); err != nil {
		return err
	}
	expected, bump, err := RecipeAddress(p.id, recipeMint)
	if err != nil {
		return err
	}
	if recipeKey != expected {
		return fmt.Errorf("%w: recipe", ErrDerivedKeyInvalid)
	}
	if _, exists := ictx.Account(recipeKey); exists {
		return ErrAlreadyExists
	}
	if err := verifyNFT(ictx, admin, recipeMint, accounts[CreateRecipeTokenAccount].PublicKey, accounts[CreateRecipeMetadata].PublicKey); err != nil {
		return err
	}

	recipe.Bump = bump
	data, err := EncodeRecipe(recipe)
	if err != nil {
		return err
	}
	if err := p.allocate(ictx, admin, recipeKey, data, [][]byte{RecipeSeed, recipeMint[:], {bump}}); err != nil {
		return err
	}
	ictx.Log("recipe %s created with %d ingredients", recipeMint, len(recipe.IngredientMints))
	return nil
}

// verifyNFT checks that holder owns the single unit of mint through
// tokenAccount and is a verified creator of the mint's metadata.
func verifyNFT(ictx *ledger.InvokeContext, holder, mint, tokenAccount, metadataKey solana.PublicKey) error {
	acct, err := token.LoadAccount(ictx, tokenAccount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenOwnerInvalid, err)
	}
	if acct.Owner != holder {
		return ErrTokenOwnerInvalid
	}
	if acct.Amount != 1 {
		return ErrTokenAmountInvalid
	}
	if acct.Mint != mint {
		return ErrTokenMintInvalid
	}
	md, err := readMetadata(ictx, metadataKey, mint)
	if err != nil {
		return err
	}
	if !md.HasVerifiedCreator(holder) {
		return ErrWrongCreators
	}
	return nil
}

// readMetadata loads the metadata of mint from key. A key that is not the
// derived metadata address is DerivedKeyInvalid; an absent record is
// NotInitialized.
func readMetadata(ictx *ledger.InvokeContext, key, mint solana.PublicKey) (metadata.Metadata, error) {
	expected, _, err := metadata.MetadataAddress(mint)
	if err != nil {
		return metadata.Metadata{}, err
	}
	if key != expected {
		return metadata.Metadata{}, fmt.Errorf("%w: metadata of %s", ErrDerivedKeyInvalid, mint)
	}
	acct, ok := ictx.Account(key)
	if !ok || len(acct.Data) == 0 || acct.Owner != solana.TokenMetadataProgramID {
		return metadata.Metadata{}, fmt.Errorf("%w: metadata of %s", ErrNotInitialized, mint)
	}
	md, err := metadata.DecodeMetadata(acct.Data)
	if err != nil {
		return metadata.Metadata{}, fmt.Errorf("%w: %v", ErrAccountDidNotDeserialize, err)
	}
	if md.Mint != mint {
		return metadata.Metadata{}, ErrTokenMintInvalid
	}
	return md, nil
}
