package craft

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/google/go-cmp/cmp"
)

func TestRecipeValidate(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	cases := []struct {
		name   string
		recipe Recipe
		ok     bool
	}{
		{"valid", Recipe{IngredientMints: []solana.PublicKey{mint}, IngredientAmounts: []uint64{1}}, true},
		{"empty", Recipe{}, false},
		{"length mismatch", Recipe{IngredientMints: []solana.PublicKey{mint, mint}, IngredientAmounts: []uint64{1}}, false},
		{"zero amount", Recipe{IngredientMints: []solana.PublicKey{mint}, IngredientAmounts: []uint64{0}}, false},
	}
	for _, tc := range cases {
		err := tc.recipe.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidRecipe) {
			t.Fatalf("%s: expected InvalidRecipe, got %v", tc.name, err)
		}
	}
}

func TestRecipeEncodingMatchesAllocatedSpace(t *testing.T) {
	mints := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}
	recipe := Recipe{OwnerMint: solana.NewWallet().PublicKey(), IngredientMints: mints, IngredientAmounts: []uint64{7, 9}, Bump: 254}
	data, err := EncodeRecipe(recipe)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if uint64(len(data)) != RecipeSpace(2) {
		t.Fatalf("encoded %d bytes, space %d", len(data), RecipeSpace(2))
	}
	got, err := DecodeRecipe(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(recipe, got); diff != "" {
		t.Fatalf("recipe mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Ingredient{{mints[0], 7}, {mints[1], 9}}, got.Ingredients()); diff != "" {
		t.Fatalf("ingredients mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsForeignDiscriminator(t *testing.T) {
	data, err := EncodeProgramManager(ProgramManager{Administrator: solana.NewWallet().PublicKey(), Bump: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if uint64(len(data)) != ProgramManagerSpace {
		t.Fatalf("manager encoded %d bytes, want %d", len(data), ProgramManagerSpace)
	}
	if _, err := DecodeRecipe(data); !errors.Is(err, ErrAccountDiscriminatorMismatch) {
		t.Fatalf("expected discriminator mismatch, got %v", err)
	}
	if _, err := DecodeProgramManager(data[:4]); !errors.Is(err, ErrAccountDiscriminatorNotFound) {
		t.Fatalf("expected discriminator not found, got %v", err)
	}
	if _, err := DecodeProgramManager(data[:DiscriminatorSize+3]); !errors.Is(err, ErrAccountDidNotDeserialize) {
		t.Fatalf("expected deserialize failure, got %v", err)
	}
}

func TestDerivedAddressesAreDeterministic(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	a1, b1, err := RecipeAddress(DefaultProgramID, mint)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	a2, b2, _ := RecipeAddress(DefaultProgramID, mint)
	if a1 != a2 || b1 != b2 {
		t.Fatalf("derivation not deterministic")
	}
	manager, _, _ := ProgramManagerAddress(DefaultProgramID)
	authority, _, _ := EscrowAuthorityAddress(DefaultProgramID)
	escrow, _, _ := EscrowTokenAddress(DefaultProgramID, mint)
	ata, _, _ := solana.FindAssociatedTokenAddress(authority, mint)
	if escrow != ata {
		t.Fatalf("escrow %s is not the authority's associated account %s", escrow, ata)
	}
	seen := map[solana.PublicKey]bool{}
	for _, k := range []solana.PublicKey{a1, manager, authority, escrow} {
		if seen[k] {
			t.Fatalf("address collision on %s", k)
		}
		seen[k] = true
	}
	other, _, _ := ProgramManagerAddress(solana.NewWallet().PublicKey())
	if other == manager {
		t.Fatalf("manager address ignores program id")
	}
}

func TestErrorCodes(t *testing.T) {
	if ErrAlreadyInitialized != 6000 || ErrInsufficientFunds != 6011 {
		t.Fatalf("program codes shifted: %d %d", ErrAlreadyInitialized, ErrInsufficientFunds)
	}
	err := fmt.Errorf("wrapped: %w", ingredientErr(ErrInvalidEscrow, 3))
	if !errors.Is(err, ErrInvalidEscrow) {
		t.Fatalf("ingredient error does not unwrap to its code")
	}
	if code, ok := CodeOf(err); !ok || code != ErrInvalidEscrow {
		t.Fatalf("CodeOf = %v, %v", code, ok)
	}
	if idx, ok := IngredientIndex(err); !ok || idx != 3 {
		t.Fatalf("IngredientIndex = %d, %v", idx, ok)
	}
	if got := err.Error(); got != "wrapped: InvalidEscrow(3): custom program error: 0x1779 (InvalidEscrow)" {
		t.Fatalf("unexpected message %q", got)
	}
	if ErrorCode(42).Name() != "Unknown(42)" {
		t.Fatalf("unknown code name %q", ErrorCode(42).Name())
	}
}

func TestEncodeInstruction(t *testing.T) {
	data, err := EncodeInstruction(CraftSkinDiscriminator, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != DiscriminatorSize {
		t.Fatalf("discriminator-only instruction has %d bytes", len(data))
	}
	data, err = EncodeInstruction(BindSkinDiscriminator, BindSkinArgs{Deposit: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var args BindSkinArgs
	if err := decodeArgs(data, &args); err != nil || args.Deposit != 3 {
		t.Fatalf("decode args = %+v, %v", args, err)
	}
	if err := decodeArgs(data[:DiscriminatorSize+2], &args); !errors.Is(err, ErrInstructionDidNotDeserialize) {
		t.Fatalf("expected deserialize error, got %v", err)
	}
}
