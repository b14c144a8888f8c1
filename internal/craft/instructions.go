package craft

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Instruction discriminators.
var (
	InitializeDiscriminator   = discriminator("global", "initialize")
	CreateRecipeDiscriminator = discriminator("global", "create_recipe")
	BindSkinDiscriminator     = discriminator("global", "bind_skin")
	CraftSkinDiscriminator    = discriminator("global", "craft_skin")
)

// Account positions of each instruction. Clients must pass accounts in
// exactly this order.
const (
	// initialize
	InitializeAdministrator = iota
	InitializeProgramManager
	InitializeSystemProgram
	initializeAccounts
)

const (
	// create_recipe
	CreateRecipeAdministrator = iota
	CreateRecipeProgramManager
	CreateRecipeRecipe
	CreateRecipeRecipeMint
	CreateRecipeTokenAccount
	CreateRecipeMetadata
	CreateRecipeSystemProgram
	createRecipeAccounts
)

const (
	// bind_skin
	BindSkinAdministrator = iota
	BindSkinProgramManager
	BindSkinRecipe
	BindSkinRecipeMint
	BindSkinSkinMint
	BindSkinSkinMetadata
	BindSkinSource
	BindSkinEscrowAuthority
	BindSkinVault
	BindSkinTokenProgram
	BindSkinAssociatedTokenProgram
	BindSkinSystemProgram
	bindSkinAccounts
)

const (
	// craft_skin; ingredient triples follow the fixed accounts.
	CraftSkinUser = iota
	CraftSkinSkinMint
	CraftSkinSkinMetadata
	CraftSkinRecipe
	CraftSkinEscrowAuthority
	CraftSkinVault
	CraftSkinUserSkinAccount
	CraftSkinTokenProgram
	CraftSkinAssociatedTokenProgram
	CraftSkinSystemProgram
	craftSkinAccounts
)

// CreateRecipeArgs are the borsh arguments of create_recipe.
type CreateRecipeArgs struct {
	IngredientMints   []solana.PublicKey
	IngredientAmounts []uint64
}

// BindSkinArgs are the borsh arguments of bind_skin. Deposit units of the
// skin mint move from the administrator's source account into the vault.
type BindSkinArgs struct {
	Deposit uint64
}

// EncodeInstruction prefixes the borsh-encoded args with d. A nil args
// encodes only the discriminator.
func EncodeInstruction(d Discriminator, args any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(d[:])
	if args == nil {
		return buf.Bytes(), nil
	}
	if err := bin.NewBorshEncoder(&buf).Encode(args); err != nil {
		return nil, fmt.Errorf("encode instruction args: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeArgs(data []byte, v any) error {
	if err := bin.NewBorshDecoder(data[DiscriminatorSize:]).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInstructionDidNotDeserialize, err)
	}
	return nil
}
