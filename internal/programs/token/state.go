package token

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account data sizes in bytes.
const (
	MintSize    = 42
	AccountSize = 73
)

// Mint is the state of a token mint.
type Mint struct {
	MintAuthority solana.PublicKey
	Supply        uint64
	Decimals      uint8
	IsInitialized bool
}

// Account is the state of a token holding account.
type Account struct {
	Mint          solana.PublicKey
	Owner         solana.PublicKey
	Amount        uint64
	IsInitialized bool
}

// Encode serializes the mint.
func (m Mint) Encode() ([]byte, error) { return encode(m) }

// Encode serializes the token account.
func (a Account) Encode() ([]byte, error) { return encode(a) }

// DecodeMint parses mint state.
func DecodeMint(data []byte) (Mint, error) {
	var m Mint
	if len(data) != MintSize {
		return m, fmt.Errorf("%w: mint data is %d bytes", ErrInvalidAccountData, len(data))
	}
	if err := bin.NewBorshDecoder(data).Decode(&m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return m, nil
}

// DecodeAccount parses token account state.
func DecodeAccount(data []byte) (Account, error) {
	var a Account
	if len(data) != AccountSize {
		return a, fmt.Errorf("%w: token account data is %d bytes", ErrInvalidAccountData, len(data))
	}
	if err := bin.NewBorshDecoder(data).Decode(&a); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return a, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
