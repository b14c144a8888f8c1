// Package testkit builds ledger fixtures for tests: funded wallets, fungible
// mints, one-of-one NFTs with metadata and skin mints bound to a collection.
package testkit

import (
	"context"
	"sync/atomic"
	"testing"

	"craftskins/internal/craft"
	"craftskins/internal/infra/persistence/memory"
	"craftskins/internal/ledger"
	"craftskins/internal/programs"
	"craftskins/internal/programs/metadata"
	"craftskins/internal/programs/system"
	"craftskins/internal/programs/token"
	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
)

// DefaultLamports funds new wallets.
const DefaultLamports = 10_000_000_000

// Kit drives a ledger with every built-in program installed.
type Kit struct {
	t         testing.TB
	Ledger    *ledger.Ledger
	ProgramID solana.PublicKey
	nonce     atomic.Uint64
}

type config struct {
	store     domain.PersistentStore
	programID solana.PublicKey
}

// Option configures a Kit.
type Option func(*config)

// WithStore runs the ledger over store instead of a fresh memory store.
func WithStore(store domain.PersistentStore) Option {
	return func(c *config) { c.store = store }
}

// WithProgramID deploys the crafting program at id.
func WithProgramID(id solana.PublicKey) Option {
	return func(c *config) { c.programID = id }
}

// New returns a kit over an in-memory store.
func New(t testing.TB, opts ...Option) *Kit {
	t.Helper()
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.NewStore(nil)
	}
	l := ledger.New(cfg.store)
	program := programs.Install(l, cfg.programID)
	return &Kit{t: t, Ledger: l, ProgramID: program.ID()}
}

// Context returns the test context.
func (k *Kit) Context() context.Context { return context.Background() }

// Wallet returns a new key funded with DefaultLamports.
func (k *Kit) Wallet() solana.PrivateKey {
	return k.FundedWallet(DefaultLamports)
}

// FundedWallet returns a new key holding lamports.
func (k *Kit) FundedWallet(lamports uint64) solana.PrivateKey {
	k.t.Helper()
	key := k.NewKey()
	if lamports == 0 {
		return key
	}
	if err := k.Ledger.Fund(k.Context(), key.PublicKey(), lamports); err != nil {
		k.t.Fatalf("fund wallet: %v", err)
	}
	return key
}

// NewKey returns an unfunded key.
func (k *Kit) NewKey() solana.PrivateKey {
	k.t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		k.t.Fatalf("generate key: %v", err)
	}
	return key
}

// Transaction signs ixs with payer first and every extra signer.
func (k *Kit) Transaction(payer solana.PrivateKey, signers []solana.PrivateKey, ixs ...solana.Instruction) *ledger.Transaction {
	k.t.Helper()
	tx := ledger.NewTransaction(payer.PublicKey(), k.nonce.Add(1), ixs...)
	if err := tx.Sign(append([]solana.PrivateKey{payer}, signers...)...); err != nil {
		k.t.Fatalf("sign transaction: %v", err)
	}
	return tx
}

// Submit executes ixs paid and signed by payer plus signers.
func (k *Kit) Submit(payer solana.PrivateKey, signers []solana.PrivateKey, ixs ...solana.Instruction) (ledger.Receipt, error) {
	k.t.Helper()
	return k.Ledger.Submit(k.Context(), k.Transaction(payer, signers, ixs...))
}

// MustSubmit is Submit failing the test on error.
func (k *Kit) MustSubmit(payer solana.PrivateKey, signers []solana.PrivateKey, ixs ...solana.Instruction) ledger.Receipt {
	k.t.Helper()
	receipt, err := k.Submit(payer, signers, ixs...)
	if err != nil {
		k.t.Fatalf("submit: %v\nlogs:\n%v", err, receipt.Logs)
	}
	return receipt
}

// CreateMint creates a mint controlled by authority, paid by authority.
func (k *Kit) CreateMint(authority solana.PrivateKey, decimals uint8) solana.PublicKey {
	k.t.Helper()
	mint := k.NewKey()
	lamports := k.Ledger.Rent().MinimumBalance(token.MintSize)
	k.MustSubmit(authority, []solana.PrivateKey{mint},
		system.NewCreateAccountInstruction(authority.PublicKey(), mint.PublicKey(), lamports, token.MintSize, solana.TokenProgramID),
		token.NewInitializeMintInstruction(mint.PublicKey(), decimals, authority.PublicKey()),
	)
	return mint.PublicKey()
}

// AssociatedAccount creates (idempotently) and returns the associated token
// account of owner for mint, paid by payer.
func (k *Kit) AssociatedAccount(payer solana.PrivateKey, owner, mint solana.PublicKey) solana.PublicKey {
	k.t.Helper()
	ix, err := token.NewCreateAssociatedInstruction(payer.PublicKey(), owner, mint, true)
	if err != nil {
		k.t.Fatalf("associated instruction: %v", err)
	}
	k.MustSubmit(payer, nil, ix)
	return ix.Accounts()[1].PublicKey
}

// TokenAccount creates an auxiliary, non-associated token account of owner
// for mint.
func (k *Kit) TokenAccount(payer solana.PrivateKey, owner, mint solana.PublicKey) solana.PublicKey {
	k.t.Helper()
	account := k.NewKey()
	lamports := k.Ledger.Rent().MinimumBalance(token.AccountSize)
	k.MustSubmit(payer, []solana.PrivateKey{account},
		system.NewCreateAccountInstruction(payer.PublicKey(), account.PublicKey(), lamports, token.AccountSize, solana.TokenProgramID),
		token.NewInitializeAccountInstruction(account.PublicKey(), mint, owner),
	)
	return account.PublicKey()
}

// MintTo mints amount of mint into destination.
func (k *Kit) MintTo(authority solana.PrivateKey, mint, destination solana.PublicKey, amount uint64) {
	k.t.Helper()
	k.MustSubmit(authority, nil, token.NewMintToInstruction(mint, destination, authority.PublicKey(), amount))
}

// Transfer moves amount between token accounts.
func (k *Kit) Transfer(owner solana.PrivateKey, source, destination solana.PublicKey, amount uint64) {
	k.t.Helper()
	k.MustSubmit(owner, nil, token.NewTransferInstruction(source, destination, owner.PublicKey(), amount))
}

// Fungible creates a mint and credits each holder's associated account.
func (k *Kit) Fungible(authority solana.PrivateKey, holders map[solana.PublicKey]uint64) solana.PublicKey {
	k.t.Helper()
	mint := k.CreateMint(authority, 6)
	for holder, amount := range holders {
		ata := k.AssociatedAccount(authority, holder, mint)
		if amount > 0 {
			k.MintTo(authority, mint, ata, amount)
		}
	}
	return mint
}

// NFT is a one-of-one token with metadata.
type NFT struct {
	Mint     solana.PublicKey
	Account  solana.PublicKey
	Metadata solana.PublicKey
	Edition  solana.PublicKey
}

// NFT mints a one-of-one token to owner, registers metadata naming owner as
// the sole verified creator and marks it a master edition.
func (k *Kit) NFT(owner solana.PrivateKey, name string) NFT {
	k.t.Helper()
	nft := k.mintWithMetadata(owner, name, 1)
	edition, err := metadata.NewCreateMasterEditionInstruction(nft.Mint, owner.PublicKey(), owner.PublicKey(), owner.PublicKey(), 0)
	if err != nil {
		k.t.Fatalf("edition instruction: %v", err)
	}
	k.MustSubmit(owner, nil, edition)
	nft.Edition = edition.Accounts()[0].PublicKey
	return nft
}

// Skin mints supply units of a skin to admin and points its metadata at the
// collection mint. With verify set, admin verifies the collection as its
// update authority.
func (k *Kit) Skin(admin solana.PrivateKey, name string, supply uint64, collection solana.PublicKey, verify bool) NFT {
	k.t.Helper()
	skin := k.mintWithMetadata(admin, name, supply)
	set, err := metadata.NewSetCollectionInstruction(skin.Mint, admin.PublicKey(), collection)
	if err != nil {
		k.t.Fatalf("set collection instruction: %v", err)
	}
	ixs := []solana.Instruction{set}
	if verify {
		ver, err := metadata.NewVerifyCollectionInstruction(skin.Mint, admin.PublicKey(), collection)
		if err != nil {
			k.t.Fatalf("verify collection instruction: %v", err)
		}
		ixs = append(ixs, ver)
	}
	k.MustSubmit(admin, nil, ixs...)
	return skin
}

func (k *Kit) mintWithMetadata(owner solana.PrivateKey, name string, supply uint64) NFT {
	k.t.Helper()
	mint := k.CreateMint(owner, 0)
	account := k.AssociatedAccount(owner, owner.PublicKey(), mint)
	if supply > 0 {
		k.MintTo(owner, mint, account, supply)
	}
	creators := []metadata.Creator{{Address: owner.PublicKey(), Verified: true, Share: 100}}
	md, err := metadata.NewCreateMetadataInstruction(mint, owner.PublicKey(), owner.PublicKey(), owner.PublicKey(), name, "SKIN", "https://example.invalid/"+name+".json", creators)
	if err != nil {
		k.t.Fatalf("metadata instruction: %v", err)
	}
	k.MustSubmit(owner, nil, md)
	return NFT{Mint: mint, Account: account, Metadata: md.Accounts()[0].PublicKey}
}

// TokenBalance returns the amount held by a token account, zero when absent.
func (k *Kit) TokenBalance(account solana.PublicKey) uint64 {
	k.t.Helper()
	acct, ok := k.Ledger.Account(account)
	if !ok {
		return 0
	}
	state, err := token.DecodeAccount(acct.Data)
	if err != nil {
		k.t.Fatalf("decode token account %s: %v", account, err)
	}
	return state.Amount
}

// Associated returns the associated token address of owner for mint.
func (k *Kit) Associated(owner, mint solana.PublicKey) solana.PublicKey {
	k.t.Helper()
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		k.t.Fatalf("associated address: %v", err)
	}
	return addr
}

// Escrow returns the escrow token address of mint under the kit's program.
func (k *Kit) Escrow(mint solana.PublicKey) solana.PublicKey {
	k.t.Helper()
	addr, _, err := craft.EscrowTokenAddress(k.ProgramID, mint)
	if err != nil {
		k.t.Fatalf("escrow address: %v", err)
	}
	return addr
}

// Snapshot returns the committed ledger state.
func (k *Kit) Snapshot() map[string]domain.Account {
	accounts := k.Ledger.Store().ListAccounts()
	out := make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		out[a.Address.String()] = a
	}
	return out
}
