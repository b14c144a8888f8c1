// Package token implements the fungible and non-fungible token program and
// the associated token account program that derives one holding account per
// wallet and mint.
package token

import (
	"errors"
	"fmt"
	"math"

	"craftskins/internal/ledger"
	"craftskins/pkg/domain"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Instruction tags.
const (
	InstructionInitializeMint    uint8 = 0
	InstructionInitializeAccount uint8 = 1
	InstructionTransfer          uint8 = 3
	InstructionMintTo            uint8 = 7
)

// Errors returned by the token programs.
var (
	ErrInsufficientFunds   = errors.New("token: insufficient funds")
	ErrMintMismatch        = errors.New("token: account not associated with this mint")
	ErrOwnerMismatch       = errors.New("token: owner does not match")
	ErrAlreadyInUse        = errors.New("token: account already in use")
	ErrUninitializedState  = errors.New("token: state is uninitialized")
	ErrInvalidAccountData  = errors.New("token: invalid account data")
	ErrInvalidInstruction  = errors.New("token: invalid instruction")
	ErrNotEnoughAccounts   = errors.New("token: not enough account keys")
	ErrOverflow            = errors.New("token: operation overflowed")
	ErrMissingSigner       = errors.New("token: missing required signer")
	ErrInvalidAccountOwner = errors.New("token: account not owned by token program")
	ErrInvalidSeeds        = errors.New("token: address is not the associated token address")
)

type initializeMintArgs struct {
	Tag           uint8
	Decimals      uint8
	MintAuthority solana.PublicKey
}

type amountArgs struct {
	Tag    uint8
	Amount uint64
}

// Program is the token program.
type Program struct{}

var _ ledger.Program = Program{}

// New returns the token program.
func New() Program { return Program{} }

// ID implements ledger.Program.
func (Program) ID() solana.PublicKey { return solana.TokenProgramID }

// Process implements ledger.Program.
func (p Program) Process(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidInstruction
	}
	switch data[0] {
	case InstructionInitializeMint:
		var args initializeMintArgs
		if err := bin.NewBorshDecoder(data).Decode(&args); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}
		return p.initializeMint(ictx, accounts, args)
	case InstructionInitializeAccount:
		return p.initializeAccount(ictx, accounts)
	case InstructionTransfer, InstructionMintTo:
		var args amountArgs
		if err := bin.NewBorshDecoder(data).Decode(&args); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}
		if args.Tag == InstructionTransfer {
			return p.transfer(ictx, accounts, args.Amount)
		}
		return p.mintTo(ictx, accounts, args.Amount)
	default:
		return ErrInvalidInstruction
	}
}

// accounts: [mint (w)]
func (Program) initializeMint(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, args initializeMintArgs) error {
	if len(accounts) < 1 {
		return ErrNotEnoughAccounts
	}
	key := accounts[0].PublicKey
	acct, err := owned(ictx, key)
	if err != nil {
		return err
	}
	if len(acct.Data) != MintSize {
		return fmt.Errorf("%w: mint %s", ErrInvalidAccountData, key)
	}
	if existing, err := DecodeMint(acct.Data); err == nil && existing.IsInitialized {
		return fmt.Errorf("%w: mint %s", ErrAlreadyInUse, key)
	}
	return store(ictx, key, Mint{MintAuthority: args.MintAuthority, Decimals: args.Decimals, IsInitialized: true})
}

// accounts: [account (w), mint, owner]
func (Program) initializeAccount(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta) error {
	if len(accounts) < 3 {
		return ErrNotEnoughAccounts
	}
	key, mintKey, owner := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey
	acct, err := owned(ictx, key)
	if err != nil {
		return err
	}
	if len(acct.Data) != AccountSize {
		return fmt.Errorf("%w: token account %s", ErrInvalidAccountData, key)
	}
	if existing, err := DecodeAccount(acct.Data); err == nil && existing.IsInitialized {
		return fmt.Errorf("%w: token account %s", ErrAlreadyInUse, key)
	}
	if _, err := LoadMint(ictx, mintKey); err != nil {
		return err
	}
	return store(ictx, key, Account{Mint: mintKey, Owner: owner, IsInitialized: true})
}

// accounts: [source (w), destination (w), authority (s)]
func (Program) transfer(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, amount uint64) error {
	if len(accounts) < 3 {
		return ErrNotEnoughAccounts
	}
	srcKey, dstKey, authority := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey
	src, err := LoadAccount(ictx, srcKey)
	if err != nil {
		return err
	}
	dst, err := LoadAccount(ictx, dstKey)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return fmt.Errorf("%w: %s -> %s", ErrMintMismatch, srcKey, dstKey)
	}
	if src.Owner != authority {
		return fmt.Errorf("%w: %s is owned by %s", ErrOwnerMismatch, srcKey, src.Owner)
	}
	if !ictx.IsSigner(authority) {
		return fmt.Errorf("%w: %s", ErrMissingSigner, authority)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, srcKey, src.Amount, amount)
	}
	if srcKey == dstKey {
		return nil
	}
	if dst.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := store(ictx, srcKey, src); err != nil {
		return err
	}
	ictx.Log("transfer %d from %s to %s", amount, srcKey, dstKey)
	return store(ictx, dstKey, dst)
}

// accounts: [mint (w), destination (w), authority (s)]
func (Program) mintTo(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, amount uint64) error {
	if len(accounts) < 3 {
		return ErrNotEnoughAccounts
	}
	mintKey, dstKey, authority := accounts[0].PublicKey, accounts[1].PublicKey, accounts[2].PublicKey
	mint, err := LoadMint(ictx, mintKey)
	if err != nil {
		return err
	}
	dst, err := LoadAccount(ictx, dstKey)
	if err != nil {
		return err
	}
	if dst.Mint != mintKey {
		return fmt.Errorf("%w: %s", ErrMintMismatch, dstKey)
	}
	if mint.MintAuthority != authority {
		return fmt.Errorf("%w: mint authority is %s", ErrOwnerMismatch, mint.MintAuthority)
	}
	if !ictx.IsSigner(authority) {
		return fmt.Errorf("%w: %s", ErrMissingSigner, authority)
	}
	if mint.Supply > math.MaxUint64-amount || dst.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}
	mint.Supply += amount
	dst.Amount += amount
	if err := store(ictx, mintKey, mint); err != nil {
		return err
	}
	return store(ictx, dstKey, dst)
}

func owned(ictx *ledger.InvokeContext, key solana.PublicKey) (domain.Account, error) {
	acct, ok := ictx.Account(key)
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: %s does not exist", ErrUninitializedState, key)
	}
	if acct.Owner != solana.TokenProgramID {
		return domain.Account{}, fmt.Errorf("%w: %s", ErrInvalidAccountOwner, key)
	}
	return acct, nil
}

// LoadMint reads an initialized mint passed to the current instruction.
func LoadMint(ictx *ledger.InvokeContext, key solana.PublicKey) (Mint, error) {
	acct, err := owned(ictx, key)
	if err != nil {
		return Mint{}, err
	}
	m, err := DecodeMint(acct.Data)
	if err != nil {
		return Mint{}, err
	}
	if !m.IsInitialized {
		return Mint{}, fmt.Errorf("%w: mint %s", ErrUninitializedState, key)
	}
	return m, nil
}

// LoadAccount reads an initialized token account passed to the current instruction.
func LoadAccount(ictx *ledger.InvokeContext, key solana.PublicKey) (Account, error) {
	acct, err := owned(ictx, key)
	if err != nil {
		return Account{}, err
	}
	a, err := DecodeAccount(acct.Data)
	if err != nil {
		return Account{}, err
	}
	if !a.IsInitialized {
		return Account{}, fmt.Errorf("%w: token account %s", ErrUninitializedState, key)
	}
	return a, nil
}

func store(ictx *ledger.InvokeContext, key solana.PublicKey, state interface{ Encode() ([]byte, error) }) error {
	data, err := state.Encode()
	if err != nil {
		return err
	}
	return ictx.UpdateAccount(key, func(a *domain.Account) error {
		a.Data = data
		return nil
	})
}

// NewInitializeMintInstruction initializes a token-owned account of MintSize bytes as a mint.
func NewInitializeMintInstruction(mint solana.PublicKey, decimals uint8, authority solana.PublicKey) *solana.GenericInstruction {
	return solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
	}, mustEncode(initializeMintArgs{Tag: InstructionInitializeMint, Decimals: decimals, MintAuthority: authority}))
}

// NewInitializeAccountInstruction initializes a token-owned account of AccountSize bytes for owner.
func NewInitializeAccountInstruction(account, mint, owner solana.PublicKey) *solana.GenericInstruction {
	return solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
		solana.Meta(account).WRITE(),
		solana.Meta(mint),
		solana.Meta(owner),
	}, []byte{InstructionInitializeAccount})
}

// NewTransferInstruction moves amount from source to destination, authorized by the source owner.
func NewTransferInstruction(source, destination, authority solana.PublicKey, amount uint64) *solana.GenericInstruction {
	return solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
		solana.Meta(source).WRITE(),
		solana.Meta(destination).WRITE(),
		solana.Meta(authority).SIGNER(),
	}, mustEncode(amountArgs{Tag: InstructionTransfer, Amount: amount}))
}

// NewMintToInstruction mints amount into destination, authorized by the mint authority.
func NewMintToInstruction(mint, destination, authority solana.PublicKey, amount uint64) *solana.GenericInstruction {
	return solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
		solana.Meta(destination).WRITE(),
		solana.Meta(authority).SIGNER(),
	}, mustEncode(amountArgs{Tag: InstructionMintTo, Amount: amount}))
}

func mustEncode(v any) []byte {
	data, err := encode(v)
	if err != nil {
		panic(fmt.Errorf("token: encode instruction: %w", err))
	}
	return data
}
