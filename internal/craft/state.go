package craft

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// MaxIngredients bounds the ingredient list of a recipe.
const MaxIngredients = 16

// DiscriminatorSize is the length of the account and instruction type prefix.
const DiscriminatorSize = 8

// Discriminator is the type prefix of accounts and instructions.
type Discriminator [DiscriminatorSize]byte

func discriminator(namespace, name string) Discriminator {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d Discriminator
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// Account discriminators.
var (
	ProgramManagerDiscriminator = discriminator("account", "ProgramManager")
	RecipeDiscriminator         = discriminator("account", "Recipe")
)

// ProgramManager records the administrator allowed to create recipes and
// bind skins.
type ProgramManager struct {
	Administrator solana.PublicKey
	Bump          uint8
}

// ProgramManagerSpace is the allocated size of the manager account.
const ProgramManagerSpace = DiscriminatorSize + 32 + 1

// Ingredient is one (mint, amount) pair of a recipe.
type Ingredient struct {
	Mint   solana.PublicKey
	Amount uint64
}

// Recipe is the ordered ingredient list bound to a recipe mint. Position i
// of both lists describes ingredient i.
type Recipe struct {
	OwnerMint         solana.PublicKey
	IngredientMints   []solana.PublicKey
	IngredientAmounts []uint64
	Bump              uint8
}

// RecipeSpace is the allocated size of a recipe with k ingredients.
func RecipeSpace(k int) uint64 {
	return uint64(DiscriminatorSize + 32 + 4 + 32*k + 4 + 8*k + 1)
}

// Ingredients zips the two lists.
func (r Recipe) Ingredients() []Ingredient {
	out := make([]Ingredient, len(r.IngredientMints))
	for i, mint := range r.IngredientMints {
		out[i] = Ingredient{Mint: mint, Amount: r.IngredientAmounts[i]}
	}
	return out
}

// Validate checks the list invariants of a recipe definition.
func (r Recipe) Validate() error {
	k := len(r.IngredientMints)
	if k == 0 || k != len(r.IngredientAmounts) || k > MaxIngredients {
		return ErrInvalidRecipe
	}
	for _, amount := range r.IngredientAmounts {
		if amount == 0 {
			return ErrInvalidRecipe
		}
	}
	return nil
}

// EncodeProgramManager serializes a manager with its discriminator.
func EncodeProgramManager(m ProgramManager) ([]byte, error) {
	return encodeAccount(ProgramManagerDiscriminator, m)
}

// DecodeProgramManager parses manager account data.
func DecodeProgramManager(data []byte) (ProgramManager, error) {
	var m ProgramManager
	err := decodeAccount(ProgramManagerDiscriminator, data, &m)
	return m, err
}

// EncodeRecipe serializes a recipe with its discriminator.
func EncodeRecipe(r Recipe) ([]byte, error) {
	return encodeAccount(RecipeDiscriminator, r)
}

// DecodeRecipe parses recipe account data.
func DecodeRecipe(data []byte) (Recipe, error) {
	var r Recipe
	if err := decodeAccount(RecipeDiscriminator, data, &r); err != nil {
		return Recipe{}, err
	}
	if len(r.IngredientMints) != len(r.IngredientAmounts) {
		return Recipe{}, fmt.Errorf("%w: recipe lists differ in length", ErrAccountDidNotDeserialize)
	}
	return r, nil
}

func encodeAccount(d Discriminator, v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(d[:])
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAccount(d Discriminator, data []byte, v any) error {
	if len(data) < DiscriminatorSize {
		return ErrAccountDiscriminatorNotFound
	}
	if !bytes.Equal(data[:DiscriminatorSize], d[:]) {
		return ErrAccountDiscriminatorMismatch
	}
	if err := bin.NewBorshDecoder(data[DiscriminatorSize:]).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountDidNotDeserialize, err)
	}
	return nil
}
