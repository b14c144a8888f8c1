// Package craftclient builds crafting program instructions off-line. Every
// derived address the program checks is recomputed here so callers never
// need to query the ledger for them.
package craftclient

import (
	"fmt"

	"craftskins/internal/craft"
	"craftskins/internal/programs/metadata"

	"github.com/gagliardetto/solana-go"
)

// Client targets one deployment of the crafting program.
type Client struct {
	ProgramID solana.PublicKey
}

// New returns a client for programID. A zero id selects craft.DefaultProgramID.
func New(programID solana.PublicKey) Client {
	if programID.IsZero() {
		programID = craft.DefaultProgramID
	}
	return Client{ProgramID: programID}
}

// ProgramManager returns the manager address.
func (c Client) ProgramManager() (solana.PublicKey, error) {
	addr, _, err := craft.ProgramManagerAddress(c.ProgramID)
	return addr, err
}

// Recipe returns the recipe address of recipeMint.
func (c Client) Recipe(recipeMint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := craft.RecipeAddress(c.ProgramID, recipeMint)
	return addr, err
}

// EscrowAuthority returns the program signer that owns every escrow.
func (c Client) EscrowAuthority() (solana.PublicKey, error) {
	addr, _, err := craft.EscrowAuthorityAddress(c.ProgramID)
	return addr, err
}

// Escrow returns the escrow token account of mint. For a skin mint this is
// the vault crafted skins are drawn from.
func (c Client) Escrow(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := craft.EscrowTokenAddress(c.ProgramID, mint)
	return addr, err
}

// Initialize creates the program manager with admin as administrator.
func (c Client) Initialize(admin solana.PublicKey) (*solana.GenericInstruction, error) {
	manager, err := c.ProgramManager()
	if err != nil {
		return nil, err
	}
	return c.instruction(craft.InitializeDiscriminator, nil, solana.AccountMetaSlice{
		solana.Meta(admin).WRITE().SIGNER(),
		solana.Meta(manager).WRITE(),
		solana.Meta(solana.SystemProgramID),
	})
}

// CreateRecipe records the ingredient lists under recipeMint. tokenAccount
// holds admin's single unit of the recipe mint. The lists are sent as given;
// the program rejects mismatched lengths.
func (c Client) CreateRecipe(admin, recipeMint, tokenAccount solana.PublicKey, mints []solana.PublicKey, amounts []uint64) (*solana.GenericInstruction, error) {
	manager, err := c.ProgramManager()
	if err != nil {
		return nil, err
	}
	recipe, err := c.Recipe(recipeMint)
	if err != nil {
		return nil, err
	}
	md, _, err := metadata.MetadataAddress(recipeMint)
	if err != nil {
		return nil, err
	}
	args := craft.CreateRecipeArgs{IngredientMints: mints, IngredientAmounts: amounts}
	return c.instruction(craft.CreateRecipeDiscriminator, args, solana.AccountMetaSlice{
		solana.Meta(admin).WRITE().SIGNER(),
		solana.Meta(manager),
		solana.Meta(recipe).WRITE(),
		solana.Meta(recipeMint),
		solana.Meta(tokenAccount),
		solana.Meta(md),
		solana.Meta(solana.SystemProgramID),
	})
}

// BindSkin confirms skinMint's verified collection points at recipeMint and
// moves deposit units of the skin from source into the vault.
func (c Client) BindSkin(admin, recipeMint, skinMint, source solana.PublicKey, deposit uint64) (*solana.GenericInstruction, error) {
	manager, err := c.ProgramManager()
	if err != nil {
		return nil, err
	}
	recipe, err := c.Recipe(recipeMint)
	if err != nil {
		return nil, err
	}
	md, _, err := metadata.MetadataAddress(skinMint)
	if err != nil {
		return nil, err
	}
	authority, err := c.EscrowAuthority()
	if err != nil {
		return nil, err
	}
	vault, err := c.Escrow(skinMint)
	if err != nil {
		return nil, err
	}
	return c.instruction(craft.BindSkinDiscriminator, craft.BindSkinArgs{Deposit: deposit}, solana.AccountMetaSlice{
		solana.Meta(admin).WRITE().SIGNER(),
		solana.Meta(manager),
		solana.Meta(recipe),
		solana.Meta(recipeMint),
		solana.Meta(skinMint),
		solana.Meta(md),
		solana.Meta(source).WRITE(),
		solana.Meta(authority),
		solana.Meta(vault).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
		solana.Meta(solana.SystemProgramID),
	})
}

// Ingredients builds the triples for recipe, drawing every ingredient from
// user's associated token account of its mint.
func (c Client) Ingredients(user solana.PublicKey, recipe craft.Recipe) ([]craft.IngredientAccounts, error) {
	out := make([]craft.IngredientAccounts, len(recipe.IngredientMints))
	for i, mint := range recipe.IngredientMints {
		from, _, err := solana.FindAssociatedTokenAddress(user, mint)
		if err != nil {
			return nil, err
		}
		escrow, err := c.Escrow(mint)
		if err != nil {
			return nil, err
		}
		out[i] = craft.IngredientAccounts{UserAccount: from, Mint: mint, Escrow: escrow}
	}
	return out, nil
}

// CraftSkin exchanges ingredients for one unit of skinMint. recipeMint is the
// skin's verified collection; ingredients are appended in the order given.
func (c Client) CraftSkin(user, skinMint, recipeMint solana.PublicKey, ingredients []craft.IngredientAccounts) (*solana.GenericInstruction, error) {
	md, _, err := metadata.MetadataAddress(skinMint)
	if err != nil {
		return nil, err
	}
	recipe, err := c.Recipe(recipeMint)
	if err != nil {
		return nil, err
	}
	authority, err := c.EscrowAuthority()
	if err != nil {
		return nil, err
	}
	vault, err := c.Escrow(skinMint)
	if err != nil {
		return nil, err
	}
	userSkin, _, err := solana.FindAssociatedTokenAddress(user, skinMint)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(user).WRITE().SIGNER(),
		solana.Meta(skinMint),
		solana.Meta(md),
		solana.Meta(recipe),
		solana.Meta(authority),
		solana.Meta(vault).WRITE(),
		solana.Meta(userSkin).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
		solana.Meta(solana.SystemProgramID),
	}
	for _, in := range ingredients {
		metas = append(metas,
			solana.Meta(in.UserAccount).WRITE(),
			solana.Meta(in.Mint),
			solana.Meta(in.Escrow).WRITE(),
		)
	}
	return c.instruction(craft.CraftSkinDiscriminator, nil, metas)
}

func (c Client) instruction(d craft.Discriminator, args any, metas solana.AccountMetaSlice) (*solana.GenericInstruction, error) {
	data, err := craft.EncodeInstruction(d, args)
	if err != nil {
		return nil, fmt.Errorf("craftclient: %w", err)
	}
	return solana.NewInstruction(c.ProgramID, metas, data), nil
}
