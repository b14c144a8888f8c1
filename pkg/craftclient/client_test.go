package craftclient_test

import (
	"bytes"
	"testing"

	"craftskins/internal/craft"
	"craftskins/internal/programs/metadata"
	"craftskins/pkg/craftclient"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func key() solana.PublicKey { return solana.NewWallet().PublicKey() }

func TestNewDefaultsProgramID(t *testing.T) {
	require.Equal(t, craft.DefaultProgramID, craftclient.New(solana.PublicKey{}).ProgramID)
	custom := key()
	require.Equal(t, custom, craftclient.New(custom).ProgramID)
}

func TestDerivedAddressesMatchProgram(t *testing.T) {
	c := craftclient.New(key())
	mint := key()

	manager, err := c.ProgramManager()
	require.NoError(t, err)
	want, _, err := craft.ProgramManagerAddress(c.ProgramID)
	require.NoError(t, err)
	require.Equal(t, want, manager)

	recipe, err := c.Recipe(mint)
	require.NoError(t, err)
	want, _, err = craft.RecipeAddress(c.ProgramID, mint)
	require.NoError(t, err)
	require.Equal(t, want, recipe)

	escrow, err := c.Escrow(mint)
	require.NoError(t, err)
	want, _, err = craft.EscrowTokenAddress(c.ProgramID, mint)
	require.NoError(t, err)
	require.Equal(t, want, escrow)

	other, err := craftclient.New(key()).Escrow(mint)
	require.NoError(t, err)
	require.NotEqual(t, escrow, other, "escrows are scoped to the program")
}

func TestInitializeInstruction(t *testing.T) {
	c := craftclient.New(solana.PublicKey{})
	admin := key()
	ix, err := c.Initialize(admin)
	require.NoError(t, err)
	require.Equal(t, c.ProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Equal(t, craft.InitializeDiscriminator[:], data)

	metas := ix.Accounts()
	require.Len(t, metas, 3)
	require.Equal(t, admin, metas[craft.InitializeAdministrator].PublicKey)
	require.True(t, metas[craft.InitializeAdministrator].IsSigner)
	require.True(t, metas[craft.InitializeProgramManager].IsWritable)
	require.Equal(t, solana.SystemProgramID, metas[craft.InitializeSystemProgram].PublicKey)
}

func TestCreateRecipeInstruction(t *testing.T) {
	c := craftclient.New(solana.PublicKey{})
	admin, recipeMint, holding := key(), key(), key()
	mints := []solana.PublicKey{key(), key()}
	amounts := []uint64{5, 2}

	ix, err := c.CreateRecipe(admin, recipeMint, holding, mints, amounts)
	require.NoError(t, err)
	metas := ix.Accounts()
	require.Len(t, metas, craft.CreateRecipeSystemProgram+1)
	recipe, _ := c.Recipe(recipeMint)
	md, _, _ := metadata.MetadataAddress(recipeMint)
	require.Equal(t, recipe, metas[craft.CreateRecipeRecipe].PublicKey)
	require.True(t, metas[craft.CreateRecipeRecipe].IsWritable)
	require.False(t, metas[craft.CreateRecipeProgramManager].IsWritable)
	require.Equal(t, holding, metas[craft.CreateRecipeTokenAccount].PublicKey)
	require.Equal(t, md, metas[craft.CreateRecipeMetadata].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, craft.CreateRecipeDiscriminator[:]))
	var args craft.CreateRecipeArgs
	require.NoError(t, bin.NewBorshDecoder(data[craft.DiscriminatorSize:]).Decode(&args))
	require.Equal(t, mints, args.IngredientMints)
	require.Equal(t, amounts, args.IngredientAmounts)
}

func TestBindSkinInstruction(t *testing.T) {
	c := craftclient.New(solana.PublicKey{})
	admin, recipeMint, skinMint, source := key(), key(), key(), key()

	ix, err := c.BindSkin(admin, recipeMint, skinMint, source, 7)
	require.NoError(t, err)
	metas := ix.Accounts()
	require.Len(t, metas, craft.BindSkinSystemProgram+1)
	vault, _ := c.Escrow(skinMint)
	authority, _ := c.EscrowAuthority()
	require.Equal(t, vault, metas[craft.BindSkinVault].PublicKey)
	require.True(t, metas[craft.BindSkinVault].IsWritable)
	require.Equal(t, authority, metas[craft.BindSkinEscrowAuthority].PublicKey)
	require.False(t, metas[craft.BindSkinEscrowAuthority].IsSigner)
	require.True(t, metas[craft.BindSkinSource].IsWritable)

	data, err := ix.Data()
	require.NoError(t, err)
	var args craft.BindSkinArgs
	require.NoError(t, bin.NewBorshDecoder(data[craft.DiscriminatorSize:]).Decode(&args))
	require.Equal(t, uint64(7), args.Deposit)
}

func TestCraftSkinInstruction(t *testing.T) {
	c := craftclient.New(solana.PublicKey{})
	user, skinMint, recipeMint := key(), key(), key()
	recipe := craft.Recipe{OwnerMint: recipeMint, IngredientMints: []solana.PublicKey{key(), key()}, IngredientAmounts: []uint64{3, 1}}

	ingredients, err := c.Ingredients(user, recipe)
	require.NoError(t, err)
	require.Len(t, ingredients, 2)
	for i, in := range ingredients {
		ata, _, err := solana.FindAssociatedTokenAddress(user, recipe.IngredientMints[i])
		require.NoError(t, err)
		escrow, _ := c.Escrow(recipe.IngredientMints[i])
		require.Equal(t, craft.IngredientAccounts{UserAccount: ata, Mint: recipe.IngredientMints[i], Escrow: escrow}, in)
	}

	ix, err := c.CraftSkin(user, skinMint, recipeMint, ingredients)
	require.NoError(t, err)
	metas := ix.Accounts()
	require.Len(t, metas, craft.CraftSkinSystemProgram+1+3*len(ingredients))
	userSkin, _, _ := solana.FindAssociatedTokenAddress(user, skinMint)
	require.Equal(t, userSkin, metas[craft.CraftSkinUserSkinAccount].PublicKey)
	require.True(t, metas[craft.CraftSkinUser].IsSigner)

	base := craft.CraftSkinSystemProgram + 1
	for i, in := range ingredients {
		triple := metas[base+3*i : base+3*i+3]
		require.Equal(t, in.UserAccount, triple[0].PublicKey)
		require.True(t, triple[0].IsWritable)
		require.Equal(t, in.Mint, triple[1].PublicKey)
		require.False(t, triple[1].IsWritable)
		require.Equal(t, in.Escrow, triple[2].PublicKey)
		require.True(t, triple[2].IsWritable)
	}

	data, err := ix.Data()
	require.NoError(t, err)
	require.Equal(t, craft.CraftSkinDiscriminator[:], data)
}
