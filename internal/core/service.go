// Package core is the service façade over the crafting ledger. It resolves
// every account an instruction needs, signs and submits transactions, and
// reports each operation to the configured logger, tracer, metrics and audit
// sinks.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"craftskins/internal/archive"
	"craftskins/internal/craft"
	"craftskins/internal/infra/persistence/memory"
	"craftskins/internal/ledger"
	"craftskins/internal/programs"
	"craftskins/internal/programs/metadata"
	"craftskins/internal/programs/token"
	"craftskins/pkg/craftclient"
	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Operation names reported to observability sinks.
const (
	OpInitialize      = "initialize"
	OpCreateRecipe    = "create_recipe"
	OpBindSkin        = "bind_skin"
	OpCraftSkin       = "craft_skin"
	OpArchiveSnapshot = "archive_snapshot"
	OpRestoreSnapshot = "restore_snapshot"
)

// DefaultBatchConcurrency bounds CraftBatch when no limit is given.
const DefaultBatchConcurrency = 8

var (
	// ErrNoArchive is returned by snapshot operations when no archive is
	// configured.
	ErrNoArchive = errors.New("no snapshot archive configured")
	// ErrSnapshotUnsupported is returned when the store cannot export or
	// import its state.
	ErrSnapshotUnsupported = errors.New("store does not support snapshots")
)

// ErrNotFound is returned when a ledger lookup finds nothing.
type ErrNotFound struct {
	Kind    string
	Address solana.PublicKey
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Address)
}

// Service submits crafting program transactions against a ledger.
type Service struct {
	ledger  *ledger.Ledger
	client  craftclient.Client
	logger  Logger
	clock   Clock
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	limits  *callerLimits
	archive archive.Store
	nonce   atomic.Uint64
}

// NewService constructs a service for a ledger that already has the
// crafting program installed.
func NewService(l *ledger.Ledger, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{
		ledger:  l,
		client:  craftclient.New(o.programID),
		logger:  o.logger,
		clock:   o.clock,
		audit:   o.audit,
		metrics: o.metrics,
		tracer:  o.tracer,
		limits:  o.limits,
		archive: o.archive,
	}
	s.nonce.Store(uint64(o.clock.Now().UnixNano()))
	return s
}

// NewInMemoryService creates a ledger over a memory store evaluating the
// default rules, installs every program and returns a service for it.
func NewInMemoryService(opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	l := ledger.New(memory.NewStore(NewDefaultRulesEngine(o.programID)))
	programID := programs.Install(l, o.programID).ID()
	return NewService(l, append(opts, WithProgramID(programID))...)
}

// Ledger returns the underlying ledger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Client returns the instruction builder for the service's program.
func (s *Service) Client() craftclient.Client { return s.client }

// ProgramID returns the crafting program id.
func (s *Service) ProgramID() solana.PublicKey { return s.client.ProgramID }

// Close releases the store when it holds external resources.
func (s *Service) Close() error {
	if c, ok := s.ledger.Store().(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Initialize creates the program manager with admin as administrator.
func (s *Service) Initialize(ctx context.Context, admin solana.PrivateKey) (ledger.Receipt, error) {
	manager, _ := s.client.ProgramManager()
	return s.run(ctx, OpInitialize, admin.PublicKey(), manager, func(ctx context.Context) (ledger.Receipt, error) {
		ix, err := s.client.Initialize(admin.PublicKey())
		if err != nil {
			return ledger.Receipt{}, err
		}
		return s.submit(ctx, admin, ix)
	})
}

// RecipeRequest describes a recipe to create. A zero TokenAccount selects the
// administrator's associated account of RecipeMint.
type RecipeRequest struct {
	RecipeMint   solana.PublicKey
	TokenAccount solana.PublicKey
	Mints        []solana.PublicKey
	Amounts      []uint64
}

// CreateRecipe records req's ingredient lists under its recipe mint and
// returns the stored recipe.
func (s *Service) CreateRecipe(ctx context.Context, admin solana.PrivateKey, req RecipeRequest) (craft.Recipe, ledger.Receipt, error) {
	var created craft.Recipe
	receipt, err := s.run(ctx, OpCreateRecipe, admin.PublicKey(), req.RecipeMint, func(ctx context.Context) (ledger.Receipt, error) {
		tokenAccount := req.TokenAccount
		if tokenAccount.IsZero() {
			ata, _, err := solana.FindAssociatedTokenAddress(admin.PublicKey(), req.RecipeMint)
			if err != nil {
				return ledger.Receipt{}, err
			}
			tokenAccount = ata
		}
		ix, err := s.client.CreateRecipe(admin.PublicKey(), req.RecipeMint, tokenAccount, req.Mints, req.Amounts)
		if err != nil {
			return ledger.Receipt{}, err
		}
		receipt, err := s.submit(ctx, admin, ix)
		if err != nil {
			return receipt, err
		}
		created, err = s.Recipe(req.RecipeMint)
		return receipt, err
	})
	return created, receipt, err
}

// BindRequest describes a skin binding. A zero Source selects the
// administrator's associated account of SkinMint.
type BindRequest struct {
	RecipeMint solana.PublicKey
	SkinMint   solana.PublicKey
	Source     solana.PublicKey
	Deposit    uint64
}

// BindSkin confirms the skin belongs to the recipe's collection and deposits
// req.Deposit units of it into the skin vault.
func (s *Service) BindSkin(ctx context.Context, admin solana.PrivateKey, req BindRequest) (ledger.Receipt, error) {
	return s.run(ctx, OpBindSkin, admin.PublicKey(), req.SkinMint, func(ctx context.Context) (ledger.Receipt, error) {
		source := req.Source
		if source.IsZero() {
			ata, _, err := solana.FindAssociatedTokenAddress(admin.PublicKey(), req.SkinMint)
			if err != nil {
				return ledger.Receipt{}, err
			}
			source = ata
		}
		ix, err := s.client.BindSkin(admin.PublicKey(), req.RecipeMint, req.SkinMint, source, req.Deposit)
		if err != nil {
			return ledger.Receipt{}, err
		}
		return s.submit(ctx, admin, ix)
	})
}

// CraftSkin exchanges the recipe ingredients held in user's associated
// accounts for one unit of skinMint. The recipe is found through the skin's
// verified collection.
func (s *Service) CraftSkin(ctx context.Context, user solana.PrivateKey, skinMint solana.PublicKey) (ledger.Receipt, error) {
	return s.run(ctx, OpCraftSkin, user.PublicKey(), skinMint, func(ctx context.Context) (ledger.Receipt, error) {
		recipeMint, recipe, err := s.RecipeForSkin(skinMint)
		if err != nil {
			return ledger.Receipt{}, err
		}
		ingredients, err := s.client.Ingredients(user.PublicKey(), recipe)
		if err != nil {
			return ledger.Receipt{}, err
		}
		ix, err := s.client.CraftSkin(user.PublicKey(), skinMint, recipeMint, ingredients)
		if err != nil {
			return ledger.Receipt{}, err
		}
		return s.submit(ctx, user, ix)
	})
}

// CraftRequest is one entry of a batch.
type CraftRequest struct {
	User     solana.PrivateKey
	SkinMint solana.PublicKey
}

// CraftResult reports the outcome of one batch entry.
type CraftResult struct {
	User     solana.PublicKey
	SkinMint solana.PublicKey
	Receipt  ledger.Receipt
	Err      error
}

// CraftBatch runs the requests with at most concurrency in flight. A failed
// craft does not stop the others; results are returned in request order. The
// error is non-nil only when ctx ends before every request was attempted.
func (s *Service) CraftBatch(ctx context.Context, reqs []CraftRequest, concurrency int) ([]CraftResult, error) {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	results := make([]CraftResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			_ = g.Wait()
			return results, err
		}
		g.Go(func() error {
			receipt, err := s.CraftSkin(ctx, req.User, req.SkinMint)
			results[i] = CraftResult{User: req.User.PublicKey(), SkinMint: req.SkinMint, Receipt: receipt, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// ProgramManager returns the committed manager state.
func (s *Service) ProgramManager() (craft.ProgramManager, error) {
	addr, err := s.client.ProgramManager()
	if err != nil {
		return craft.ProgramManager{}, err
	}
	acct, ok := s.ledger.Account(addr)
	if !ok || acct.Owner != s.ProgramID() {
		return craft.ProgramManager{}, ErrNotFound{Kind: "program manager", Address: addr}
	}
	return craft.DecodeProgramManager(acct.Data)
}

// Recipe returns the recipe bound to recipeMint.
func (s *Service) Recipe(recipeMint solana.PublicKey) (craft.Recipe, error) {
	addr, err := s.client.Recipe(recipeMint)
	if err != nil {
		return craft.Recipe{}, err
	}
	acct, ok := s.ledger.Account(addr)
	if !ok || acct.Owner != s.ProgramID() {
		return craft.Recipe{}, fmt.Errorf("%w: %w", craft.ErrRecipeNotFound, ErrNotFound{Kind: "recipe", Address: addr})
	}
	return craft.DecodeRecipe(acct.Data)
}

// RecipeForSkin resolves the recipe mint of skinMint's verified collection
// and its recipe.
func (s *Service) RecipeForSkin(skinMint solana.PublicKey) (solana.PublicKey, craft.Recipe, error) {
	addr, _, err := metadata.MetadataAddress(skinMint)
	if err != nil {
		return solana.PublicKey{}, craft.Recipe{}, err
	}
	acct, ok := s.ledger.Account(addr)
	if !ok || acct.Owner != solana.TokenMetadataProgramID {
		return solana.PublicKey{}, craft.Recipe{}, fmt.Errorf("%w: no metadata for %s", craft.ErrUnboundSkin, skinMint)
	}
	md, err := metadata.DecodeMetadata(acct.Data)
	if err != nil {
		return solana.PublicKey{}, craft.Recipe{}, err
	}
	recipeMint, ok := md.VerifiedCollection()
	if !ok {
		return solana.PublicKey{}, craft.Recipe{}, fmt.Errorf("%w: %s has no verified collection", craft.ErrUnboundSkin, skinMint)
	}
	recipe, err := s.Recipe(recipeMint)
	return recipeMint, recipe, err
}

// TokenBalance returns the amount held by a token account.
func (s *Service) TokenBalance(account solana.PublicKey) (uint64, error) {
	acct, ok := s.ledger.Account(account)
	if !ok || acct.Owner != solana.TokenProgramID {
		return 0, ErrNotFound{Kind: "token account", Address: account}
	}
	state, err := token.DecodeAccount(acct.Data)
	if err != nil {
		return 0, err
	}
	return state.Amount, nil
}

// EscrowBalance returns the escrowed amount of mint. An escrow that has not
// been created yet holds nothing.
func (s *Service) EscrowBalance(mint solana.PublicKey) (uint64, error) {
	addr, err := s.client.Escrow(mint)
	if err != nil {
		return 0, err
	}
	amount, err := s.TokenBalance(addr)
	var nf ErrNotFound
	if errors.As(err, &nf) {
		return 0, nil
	}
	return amount, err
}

// ArchiveSnapshot writes the committed ledger state to the archive under key.
func (s *Service) ArchiveSnapshot(ctx context.Context, key string) (archive.Info, error) {
	var info archive.Info
	_, err := s.run(ctx, OpArchiveSnapshot, solana.PublicKey{}, solana.PublicKey{}, func(ctx context.Context) (ledger.Receipt, error) {
		snapshotter, err := s.snapshotter()
		if err != nil {
			return ledger.Receipt{}, err
		}
		info, err = archive.SaveSnapshot(ctx, s.archive, key, s.ledger.Slot(), snapshotter.ExportState())
		return ledger.Receipt{}, err
	})
	return info, err
}

// RestoreSnapshot replaces the committed ledger state with the snapshot
// stored under key and returns the slot it was taken at. Transactions already
// running finish first; new ones wait until the swap is done.
func (s *Service) RestoreSnapshot(ctx context.Context, key string) (uint64, error) {
	var slot uint64
	_, err := s.run(ctx, OpRestoreSnapshot, solana.PublicKey{}, solana.PublicKey{}, func(ctx context.Context) (ledger.Receipt, error) {
		snapshotter, err := s.snapshotter()
		if err != nil {
			return ledger.Receipt{}, err
		}
		snap, taken, err := archive.LoadSnapshot(ctx, s.archive, key)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := snapshotter.RestoreState(ctx, snap); err != nil {
			return ledger.Receipt{}, fmt.Errorf("restore %s: %w", key, err)
		}
		slot = taken
		return ledger.Receipt{}, nil
	})
	return slot, err
}

func (s *Service) snapshotter() (domain.Snapshotter, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	snapshotter, ok := s.ledger.Store().(domain.Snapshotter)
	if !ok {
		return nil, ErrSnapshotUnsupported
	}
	return snapshotter, nil
}

func (s *Service) submit(ctx context.Context, payer solana.PrivateKey, ixs ...solana.Instruction) (ledger.Receipt, error) {
	if err := s.limits.wait(ctx, payer.PublicKey()); err != nil {
		return ledger.Receipt{}, fmt.Errorf("rate limit: %w", err)
	}
	tx := ledger.NewTransaction(payer.PublicKey(), s.nonce.Add(1), ixs...)
	if err := tx.Sign(payer); err != nil {
		return ledger.Receipt{}, err
	}
	return s.ledger.Submit(ctx, tx)
}

func (s *Service) run(ctx context.Context, op string, actor, subject solana.PublicKey, fn func(context.Context) (ledger.Receipt, error)) (ledger.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	receipt, err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	entry := AuditEntry{
		ID:        uuid.NewString(),
		Operation: op,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if !actor.IsZero() {
		entry.Actor = actor.String()
	}
	if !subject.IsZero() {
		entry.Subject = subject.String()
	}
	if receipt.Signature != (solana.Signature{}) {
		entry.Signature = receipt.Signature.String()
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op, "actor", entry.Actor, "subject", entry.Subject, "error", err, "logs", receipt.Logs)
	} else {
		s.logger.Debug("operation completed", "operation", op, "actor", entry.Actor, "slot", receipt.Slot, "duration", duration)
	}
	for _, v := range receipt.Result.Violations {
		s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "severity", string(v.Severity), "message", v.Message)
	}
	s.audit.Record(ctx, entry)
	return receipt, err
}
