package metadata

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account kind tags stored in the first byte of every registry account.
const (
	KeyMetadata      uint8 = 4
	KeyMasterEdition uint8 = 6
)

// Field limits.
const (
	MaxNameLength   = 32
	MaxSymbolLength = 10
	MaxURILength    = 200
	MaxCreators     = 5
)

var (
	metadataSeed = []byte("metadata")
	editionSeed  = []byte("edition")
)

// Creator is an attributed creator of a token. Verified creators have signed.
type Creator struct {
	Address  solana.PublicKey
	Verified bool
	Share    uint8
}

// Collection links an item to the mint of its collection NFT. Only the
// collection's update authority can set Verified.
type Collection struct {
	Verified bool
	Key      solana.PublicKey
}

// Metadata describes a mint.
type Metadata struct {
	Key             uint8
	UpdateAuthority solana.PublicKey
	Mint            solana.PublicKey
	Name            string
	Symbol          string
	URI             string
	Creators        []Creator
	HasCollection   bool
	Collection      Collection
}

// VerifiedCollection returns the collection key when a verified collection is set.
func (m Metadata) VerifiedCollection() (solana.PublicKey, bool) {
	if !m.HasCollection || !m.Collection.Verified {
		return solana.PublicKey{}, false
	}
	return m.Collection.Key, true
}

// HasVerifiedCreator reports whether address is listed as a verified creator.
func (m Metadata) HasVerifiedCreator(address solana.PublicKey) bool {
	for _, c := range m.Creators {
		if c.Verified && c.Address == address {
			return true
		}
	}
	return false
}

// MasterEdition marks a mint as a one-of-one master.
type MasterEdition struct {
	Key       uint8
	Supply    uint64
	MaxSupply uint64
}

// Encode serializes the metadata.
func (m Metadata) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode serializes the edition.
func (e MasterEdition) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMetadata parses a metadata account.
func DecodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if len(data) == 0 || data[0] != KeyMetadata {
		return m, ErrUninitialized
	}
	if err := bin.NewBorshDecoder(data).Decode(&m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return m, nil
}

// DecodeMasterEdition parses an edition account.
func DecodeMasterEdition(data []byte) (MasterEdition, error) {
	var e MasterEdition
	if len(data) == 0 || data[0] != KeyMasterEdition {
		return e, ErrUninitialized
	}
	if err := bin.NewBorshDecoder(data).Decode(&e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	return e, nil
}

// MetadataAddress derives the metadata account of mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	pid := solana.TokenMetadataProgramID
	return solana.FindProgramAddress([][]byte{metadataSeed, pid[:], mint[:]}, pid)
}

// EditionAddress derives the master edition account of mint.
func EditionAddress(mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	pid := solana.TokenMetadataProgramID
	return solana.FindProgramAddress([][]byte{metadataSeed, pid[:], mint[:], editionSeed}, pid)
}
