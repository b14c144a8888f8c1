package craft

import (
	"errors"
	"fmt"
)

// ErrorCode is a program error. Framework codes sit below 6000 and program
// codes start at 6000.
type ErrorCode uint32

// Framework errors raised while decoding instructions and accounts.
const (
	ErrInstructionMissing           ErrorCode = 100
	ErrInstructionFallbackNotFound  ErrorCode = 101
	ErrInstructionDidNotDeserialize ErrorCode = 102
	ErrAccountDiscriminatorNotFound ErrorCode = 3001
	ErrAccountDiscriminatorMismatch ErrorCode = 3002
	ErrAccountDidNotDeserialize     ErrorCode = 3003
	ErrAccountNotEnoughKeys         ErrorCode = 3005
	ErrAccountNotMutable            ErrorCode = 3006
	ErrAccountNotSigner             ErrorCode = 3010
	ErrAccountNotProgramOwned       ErrorCode = 3011
)

// Program errors.
const (
	ErrAlreadyInitialized ErrorCode = 6000 + iota
	ErrUnauthorized
	ErrInvalidRecipe
	ErrAlreadyExists
	ErrCollectionMismatch
	ErrUnverified
	ErrUnboundSkin
	ErrRecipeNotFound
	ErrIngredientMismatch
	ErrInvalidEscrow
	ErrInsufficientIngredient
	ErrInsufficientFunds
	ErrTokenAmountInvalid
	ErrTokenMintInvalid
	ErrTokenOwnerInvalid
	ErrDerivedKeyInvalid
	ErrNotInitialized
	ErrWrongCreators
	ErrInvalidRemainingAccounts
	ErrSkinUnavailable
)

var errorNames = map[ErrorCode]string{
	ErrInstructionMissing:           "InstructionMissing",
	ErrInstructionFallbackNotFound:  "InstructionFallbackNotFound",
	ErrInstructionDidNotDeserialize: "InstructionDidNotDeserialize",
	ErrAccountDiscriminatorNotFound: "AccountDiscriminatorNotFound",
	ErrAccountDiscriminatorMismatch: "AccountDiscriminatorMismatch",
	ErrAccountDidNotDeserialize:     "AccountDidNotDeserialize",
	ErrAccountNotEnoughKeys:         "AccountNotEnoughKeys",
	ErrAccountNotMutable:            "AccountNotMutable",
	ErrAccountNotSigner:             "AccountNotSigner",
	ErrAccountNotProgramOwned:       "AccountNotProgramOwned",
	ErrAlreadyInitialized:           "AlreadyInitialized",
	ErrUnauthorized:                 "Unauthorized",
	ErrInvalidRecipe:                "InvalidRecipe",
	ErrAlreadyExists:                "AlreadyExists",
	ErrCollectionMismatch:           "CollectionMismatch",
	ErrUnverified:                   "Unverified",
	ErrUnboundSkin:                  "UnboundSkin",
	ErrRecipeNotFound:               "RecipeNotFound",
	ErrIngredientMismatch:           "IngredientMismatch",
	ErrInvalidEscrow:                "InvalidEscrow",
	ErrInsufficientIngredient:       "InsufficientIngredient",
	ErrInsufficientFunds:            "InsufficientFunds",
	ErrTokenAmountInvalid:           "TokenAmountInvalid",
	ErrTokenMintInvalid:             "TokenMintInvalid",
	ErrTokenOwnerInvalid:            "TokenOwnerInvalid",
	ErrDerivedKeyInvalid:            "DerivedKeyInvalid",
	ErrNotInitialized:               "NotInitialized",
	ErrWrongCreators:                "WrongCreators",
	ErrInvalidRemainingAccounts:     "InvalidRemainingAccounts",
	ErrSkinUnavailable:              "SkinUnavailable",
}

// Name returns the symbolic name of the code.
func (c ErrorCode) Name() string {
	if name, ok := errorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint32(c))
}

func (c ErrorCode) Error() string {
	return fmt.Sprintf("custom program error: %#x (%s)", uint32(c), c.Name())
}

// IngredientError is a per-ingredient failure carrying the offending index
// of the recipe. It unwraps to its code.
type IngredientError struct {
	Code  ErrorCode
	Index int
}

func ingredientErr(code ErrorCode, index int) *IngredientError {
	return &IngredientError{Code: code, Index: index}
}

func (e *IngredientError) Error() string {
	return fmt.Sprintf("%s(%d): %v", e.Code.Name(), e.Index, e.Code)
}

// Unwrap returns the error code.
func (e *IngredientError) Unwrap() error { return e.Code }

// CodeOf extracts the program error code from err.
func CodeOf(err error) (ErrorCode, bool) {
	var code ErrorCode
	if errors.As(err, &code) {
		return code, true
	}
	return 0, false
}

// IngredientIndex extracts the ingredient index from err when it carries one.
func IngredientIndex(err error) (int, bool) {
	var ie *IngredientError
	if errors.As(err, &ie) {
		return ie.Index, true
	}
	return 0, false
}
