package craft

import (
	"github.com/gagliardetto/solana-go"
)

// Seeds of the program's derived addresses.
var (
	ManagerSeed = []byte("manager")
	RecipeSeed  = []byte("recipe")
	SignerSeed  = []byte("signer")
)

// ProgramManagerAddress derives the singleton manager account.
func ProgramManagerAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{ManagerSeed}, programID)
}

// RecipeAddress derives the recipe account keyed by its recipe mint.
func RecipeAddress(programID, recipeMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{RecipeSeed, recipeMint[:]}, programID)
}

// EscrowAuthorityAddress derives the signer that owns every escrow account.
func EscrowAuthorityAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{SignerSeed}, programID)
}

// EscrowTokenAddress derives the escrow token account for mint: the
// associated token account of the escrow authority. The returned bump is the
// associated-account bump, not the authority's.
func EscrowTokenAddress(programID, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	authority, _, err := EscrowAuthorityAddress(programID)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	return solana.FindAssociatedTokenAddress(authority, mint)
}
