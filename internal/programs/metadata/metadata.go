// Package metadata implements the token metadata registry: per-mint
// descriptive records, master editions and verified collection membership.
package metadata

import (
	"bytes"
	"errors"
	"fmt"

	"craftskins/internal/ledger"
	"craftskins/internal/programs/system"
	"craftskins/internal/programs/token"
	"craftskins/pkg/domain"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Instruction tags.
const (
	InstructionCreateMetadata      uint8 = 0
	InstructionCreateMasterEdition uint8 = 1
	InstructionSetCollection       uint8 = 2
	InstructionVerifyCollection    uint8 = 3
)

// Errors returned by the metadata registry.
var (
	ErrInvalidInstruction       = errors.New("metadata: invalid instruction")
	ErrNotEnoughAccounts        = errors.New("metadata: not enough account keys")
	ErrInvalidAccountData       = errors.New("metadata: invalid account data")
	ErrUninitialized            = errors.New("metadata: account not initialized")
	ErrAlreadyInitialized       = errors.New("metadata: account already initialized")
	ErrDerivedKeyInvalid        = errors.New("metadata: derived key invalid")
	ErrMintAuthorityMismatch    = errors.New("metadata: mint authority mismatch")
	ErrUpdateAuthorityMismatch  = errors.New("metadata: update authority mismatch")
	ErrMissingSigner            = errors.New("metadata: missing required signer")
	ErrCreatorNotSigner         = errors.New("metadata: verified creator must sign")
	ErrInvalidShares            = errors.New("metadata: creator shares must total 100")
	ErrDataTooLong              = errors.New("metadata: field too long")
	ErrCollectionMismatch       = errors.New("metadata: collection does not match")
	ErrEditionSupplyExceedsMint = errors.New("metadata: mint supply exceeds one")
)

type createMetadataArgs struct {
	Tag      uint8
	Name     string
	Symbol   string
	URI      string
	Creators []Creator
}

type createMasterEditionArgs struct {
	Tag       uint8
	MaxSupply uint64
}

// Program is the metadata registry program.
type Program struct{}

var _ ledger.Program = Program{}

// New returns the metadata program.
func New() Program { return Program{} }

// ID implements ledger.Program.
func (Program) ID() solana.PublicKey { return solana.TokenMetadataProgramID }

// Process implements ledger.Program.
func (p Program) Process(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidInstruction
	}
	switch data[0] {
	case InstructionCreateMetadata:
		var args createMetadataArgs
		if err := bin.NewBorshDecoder(data).Decode(&args); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}
		return p.createMetadata(ictx, accounts, args)
	case InstructionCreateMasterEdition:
		var args createMasterEditionArgs
		if err := bin.NewBorshDecoder(data).Decode(&args); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}
		return p.createMasterEdition(ictx, accounts, args.MaxSupply)
	case InstructionSetCollection:
		return p.setCollection(ictx, accounts)
	case InstructionVerifyCollection:
		return p.verifyCollection(ictx, accounts)
	default:
		return ErrInvalidInstruction
	}
}

// accounts: [metadata (w), mint, mint authority (s), payer (w,s), update authority, system program]
func (Program) createMetadata(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, args createMetadataArgs) error {
	if len(accounts) < 6 {
		return ErrNotEnoughAccounts
	}
	target, mintKey, mintAuthority, payer, updateAuthority := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey, accounts[3].PublicKey, accounts[4].PublicKey
	if err := validateFields(args); err != nil {
		return err
	}
	expected, bump, err := MetadataAddress(mintKey)
	if err != nil || expected != target {
		return fmt.Errorf("%w: metadata for %s", ErrDerivedKeyInvalid, mintKey)
	}
	if _, exists := ictx.Account(target); exists {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, target)
	}
	mint, err := token.LoadMint(ictx, mintKey)
	if err != nil {
		return err
	}
	if mint.MintAuthority != mintAuthority {
		return fmt.Errorf("%w: %s", ErrMintAuthorityMismatch, mintAuthority)
	}
	if !ictx.IsSigner(mintAuthority) {
		return fmt.Errorf("%w: %s", ErrMissingSigner, mintAuthority)
	}
	for _, c := range args.Creators {
		if c.Verified && !ictx.IsSigner(c.Address) {
			return fmt.Errorf("%w: %s", ErrCreatorNotSigner, c.Address)
		}
	}
	md := Metadata{
		Key:             KeyMetadata,
		UpdateAuthority: updateAuthority,
		Mint:            mintKey,
		Name:            args.Name,
		Symbol:          args.Symbol,
		URI:             args.URI,
		Creators:        args.Creators,
	}
	data, err := md.Encode()
	if err != nil {
		return err
	}
	pid := solana.TokenMetadataProgramID
	seeds := [][]byte{metadataSeed, pid[:], mintKey[:], {bump}}
	return create(ictx, payer, target, data, seeds)
}

func validateFields(args createMetadataArgs) error {
	switch {
	case len(args.Name) > MaxNameLength:
		return fmt.Errorf("%w: name", ErrDataTooLong)
	case len(args.Symbol) > MaxSymbolLength:
		return fmt.Errorf("%w: symbol", ErrDataTooLong)
	case len(args.URI) > MaxURILength:
		return fmt.Errorf("%w: uri", ErrDataTooLong)
	case len(args.Creators) > MaxCreators:
		return fmt.Errorf("%w: creators", ErrDataTooLong)
	}
	if len(args.Creators) == 0 {
		return nil
	}
	total := 0
	for _, c := range args.Creators {
		total += int(c.Share)
	}
	if total != 100 {
		return ErrInvalidShares
	}
	return nil
}

// accounts: [edition (w), mint, update authority (s), mint authority (s), payer (w,s), metadata, system program]
func (Program) createMasterEdition(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, maxSupply uint64) error {
	if len(accounts) < 7 {
		return ErrNotEnoughAccounts
	}
	target, mintKey, updateAuthority, mintAuthority, payer, mdKey := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey, accounts[3].PublicKey, accounts[4].PublicKey, accounts[5].PublicKey
	expected, bump, err := EditionAddress(mintKey)
	if err != nil || expected != target {
		return fmt.Errorf("%w: edition for %s", ErrDerivedKeyInvalid, mintKey)
	}
	if _, exists := ictx.Account(target); exists {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, target)
	}
	md, err := load(ictx, mdKey, mintKey)
	if err != nil {
		return err
	}
	if md.UpdateAuthority != updateAuthority {
		return fmt.Errorf("%w: %s", ErrUpdateAuthorityMismatch, updateAuthority)
	}
	mint, err := token.LoadMint(ictx, mintKey)
	if err != nil {
		return err
	}
	if mint.MintAuthority != mintAuthority {
		return fmt.Errorf("%w: %s", ErrMintAuthorityMismatch, mintAuthority)
	}
	if !ictx.IsSigner(updateAuthority) || !ictx.IsSigner(mintAuthority) {
		return ErrMissingSigner
	}
	if mint.Supply > 1 {
		return ErrEditionSupplyExceedsMint
	}
	data, err := MasterEdition{Key: KeyMasterEdition, MaxSupply: maxSupply}.Encode()
	if err != nil {
		return err
	}
	pid := solana.TokenMetadataProgramID
	seeds := [][]byte{metadataSeed, pid[:], mintKey[:], editionSeed, {bump}}
	return create(ictx, payer, target, data, seeds)
}

// accounts: [metadata (w), update authority (s), collection mint]
func (Program) setCollection(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta) error {
	if len(accounts) < 3 {
		return ErrNotEnoughAccounts
	}
	mdKey, updateAuthority, collectionMint := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey
	md, err := load(ictx, mdKey, solana.PublicKey{})
	if err != nil {
		return err
	}
	if md.UpdateAuthority != updateAuthority {
		return fmt.Errorf("%w: %s", ErrUpdateAuthorityMismatch, updateAuthority)
	}
	if !ictx.IsSigner(updateAuthority) {
		return fmt.Errorf("%w: %s", ErrMissingSigner, updateAuthority)
	}
	md.HasCollection = true
	md.Collection = Collection{Key: collectionMint}
	return save(ictx, mdKey, md)
}

// accounts: [metadata (w), collection authority (s), collection mint, collection metadata]
func (Program) verifyCollection(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta) error {
	if len(accounts) < 4 {
		return ErrNotEnoughAccounts
	}
	mdKey, authority, collectionMint, collectionMdKey := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey, accounts[3].PublicKey
	md, err := load(ictx, mdKey, solana.PublicKey{})
	if err != nil {
		return err
	}
	if !md.HasCollection || md.Collection.Key != collectionMint {
		return fmt.Errorf("%w: %s", ErrCollectionMismatch, collectionMint)
	}
	collection, err := load(ictx, collectionMdKey, collectionMint)
	if err != nil {
		return err
	}
	if collection.UpdateAuthority != authority {
		return fmt.Errorf("%w: %s", ErrUpdateAuthorityMismatch, authority)
	}
	if !ictx.IsSigner(authority) {
		return fmt.Errorf("%w: %s", ErrMissingSigner, authority)
	}
	md.Collection.Verified = true
	return save(ictx, mdKey, md)
}

// load reads a metadata account; when mint is non-zero the account must be
// the derived metadata address of that mint.
func load(ictx *ledger.InvokeContext, key, mint solana.PublicKey) (Metadata, error) {
	if !mint.IsZero() {
		expected, _, err := MetadataAddress(mint)
		if err != nil || expected != key {
			return Metadata{}, fmt.Errorf("%w: metadata for %s", ErrDerivedKeyInvalid, mint)
		}
	}
	acct, ok := ictx.Account(key)
	if !ok || acct.Owner != solana.TokenMetadataProgramID {
		return Metadata{}, fmt.Errorf("%w: %s", ErrUninitialized, key)
	}
	return DecodeMetadata(acct.Data)
}

func save(ictx *ledger.InvokeContext, key solana.PublicKey, md Metadata) error {
	data, err := md.Encode()
	if err != nil {
		return err
	}
	return write(ictx, key, data)
}

func write(ictx *ledger.InvokeContext, key solana.PublicKey, data []byte) error {
	return ictx.UpdateAccount(key, func(a *domain.Account) error {
		a.Data = bytes.Clone(data)
		return nil
	})
}

func create(ictx *ledger.InvokeContext, payer, target solana.PublicKey, data []byte, seeds [][]byte) error {
	space := uint64(len(data))
	lamports := ictx.Rent().MinimumBalance(space)
	ix := system.NewCreateAccountInstruction(payer, target, lamports, space, solana.TokenMetadataProgramID)
	if err := ictx.Invoke(ix, seeds); err != nil {
		return err
	}
	return write(ictx, target, data)
}

// NewCreateMetadataInstruction registers metadata for mint. Creators marked
// verified must sign the transaction.
func NewCreateMetadataInstruction(mint, mintAuthority, payer, updateAuthority solana.PublicKey, name, symbol, uri string, creators []Creator) (*solana.GenericInstruction, error) {
	md, _, err := MetadataAddress(mint)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(md).WRITE(),
		solana.Meta(mint),
		solana.Meta(mintAuthority).SIGNER(),
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(updateAuthority),
		solana.Meta(solana.SystemProgramID),
	}
	for _, c := range creators {
		if c.Verified && !hasKey(metas, c.Address) {
			metas = append(metas, solana.Meta(c.Address).SIGNER())
		}
	}
	data, err := encode(createMetadataArgs{Tag: InstructionCreateMetadata, Name: name, Symbol: symbol, URI: uri, Creators: creators})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(solana.TokenMetadataProgramID, metas, data), nil
}

// NewCreateMasterEditionInstruction marks mint as a master edition.
func NewCreateMasterEditionInstruction(mint, updateAuthority, mintAuthority, payer solana.PublicKey, maxSupply uint64) (*solana.GenericInstruction, error) {
	edition, _, err := EditionAddress(mint)
	if err != nil {
		return nil, err
	}
	md, _, err := MetadataAddress(mint)
	if err != nil {
		return nil, err
	}
	data, err := encode(createMasterEditionArgs{Tag: InstructionCreateMasterEdition, MaxSupply: maxSupply})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(solana.TokenMetadataProgramID, solana.AccountMetaSlice{
		solana.Meta(edition).WRITE(),
		solana.Meta(mint),
		solana.Meta(updateAuthority).SIGNER(),
		solana.Meta(mintAuthority).SIGNER(),
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(md),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// NewSetCollectionInstruction records an unverified collection on the item metadata of mint.
func NewSetCollectionInstruction(mint, updateAuthority, collectionMint solana.PublicKey) (*solana.GenericInstruction, error) {
	md, _, err := MetadataAddress(mint)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(solana.TokenMetadataProgramID, solana.AccountMetaSlice{
		solana.Meta(md).WRITE(),
		solana.Meta(updateAuthority).SIGNER(),
		solana.Meta(collectionMint),
	}, []byte{InstructionSetCollection}), nil
}

// NewVerifyCollectionInstruction marks the collection of mint verified,
// signed by the collection's update authority.
func NewVerifyCollectionInstruction(mint, collectionAuthority, collectionMint solana.PublicKey) (*solana.GenericInstruction, error) {
	md, _, err := MetadataAddress(mint)
	if err != nil {
		return nil, err
	}
	collectionMd, _, err := MetadataAddress(collectionMint)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(solana.TokenMetadataProgramID, solana.AccountMetaSlice{
		solana.Meta(md).WRITE(),
		solana.Meta(collectionAuthority).SIGNER(),
		solana.Meta(collectionMint),
		solana.Meta(collectionMd),
	}, []byte{InstructionVerifyCollection}), nil
}

func hasKey(metas solana.AccountMetaSlice, key solana.PublicKey) bool {
	for _, m := range metas {
		if m.PublicKey == key {
			return true
		}
	}
	return false
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
