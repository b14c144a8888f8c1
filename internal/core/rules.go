package core

import (
	"bytes"
	"context"
	"fmt"

	"craftskins/internal/craft"
	"craftskins/internal/programs/metadata"
	"craftskins/internal/programs/token"
	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
)

// Rule names.
const (
	RuleRecipeImmutable = "recipe_immutable"
	RuleEscrowMonotonic = "escrow_monotonic"
	RuleSupplyConserved = "token_supply_conserved"
)

// NewDefaultRulesEngine returns an engine evaluating the ledger invariants of
// the crafting program deployed at programID. A zero id selects
// craft.DefaultProgramID.
func NewDefaultRulesEngine(programID solana.PublicKey) *domain.RulesEngine {
	if programID.IsZero() {
		programID = craft.DefaultProgramID
	}
	engine := domain.NewRulesEngine()
	engine.Register(RecipeImmutableRule(programID))
	engine.Register(EscrowMonotonicRule(programID))
	engine.Register(SupplyConservationRule())
	return engine
}

type recipeImmutableRule struct {
	programID solana.PublicKey
}

// RecipeImmutableRule blocks any change to an existing recipe account.
func RecipeImmutableRule(programID solana.PublicKey) domain.Rule {
	return recipeImmutableRule{programID: programID}
}

func (r recipeImmutableRule) Name() string { return RuleRecipeImmutable }

func (r recipeImmutableRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Before == nil || c.Before.Owner != r.programID {
			continue
		}
		if !bytes.HasPrefix(c.Before.Data, craft.RecipeDiscriminator[:]) {
			continue
		}
		if c.After != nil && c.Before.Equal(*c.After) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("recipe account %s %sd", c.Address, c.Action),
			Address:  c.Address,
		})
	}
	return res, nil
}

type escrowMonotonicRule struct {
	programID solana.PublicKey
	authority solana.PublicKey
}

// EscrowMonotonicRule blocks decreases of token accounts owned by the escrow
// authority, except vaults of skins bound to an existing recipe, which pay
// out one unit per craft.
func EscrowMonotonicRule(programID solana.PublicKey) domain.Rule {
	authority, _, err := craft.EscrowAuthorityAddress(programID)
	if err != nil {
		panic(fmt.Sprintf("escrow authority for %s: %v", programID, err))
	}
	return escrowMonotonicRule{programID: programID, authority: authority}
}

func (r escrowMonotonicRule) Name() string { return RuleEscrowMonotonic }

func (r escrowMonotonicRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		before, ok := tokenAccountOf(c.Before)
		if !ok || before.Owner != r.authority {
			continue
		}
		after, _ := tokenAccountOf(c.After)
		if after.Amount >= before.Amount || r.isSkinVault(view, before.Mint) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("escrow %s of mint %s decreased from %d to %d", c.Address, before.Mint, before.Amount, after.Amount),
			Address:  c.Address,
		})
	}
	return res, nil
}

func (r escrowMonotonicRule) isSkinVault(view domain.RuleView, mint solana.PublicKey) bool {
	mdAddr, _, err := metadata.MetadataAddress(mint)
	if err != nil {
		return false
	}
	acct, ok := view.FindAccount(mdAddr)
	if !ok || acct.Owner != solana.TokenMetadataProgramID {
		return false
	}
	md, err := metadata.DecodeMetadata(acct.Data)
	if err != nil {
		return false
	}
	collection, ok := md.VerifiedCollection()
	if !ok {
		return false
	}
	recipeAddr, _, err := craft.RecipeAddress(r.programID, collection)
	if err != nil {
		return false
	}
	recipe, ok := view.FindAccount(recipeAddr)
	return ok && recipe.Owner == r.programID
}

type supplyConservationRule struct{}

// SupplyConservationRule requires the net change of every mint's token
// account balances to equal the change of its supply. Transfers move
// balances without touching supply; mint-to raises both.
func SupplyConservationRule() domain.Rule { return supplyConservationRule{} }

func (supplyConservationRule) Name() string { return RuleSupplyConserved }

type supplyTally struct {
	// Conserved when balancesAfter+supplyBefore == balancesBefore+supplyAfter.
	balancesBefore, balancesAfter uint64
	supplyBefore, supplyAfter     uint64
	address                       solana.PublicKey
}

func (r supplyConservationRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	tallies := make(map[solana.PublicKey]*supplyTally)
	tally := func(mint solana.PublicKey) *supplyTally {
		t, ok := tallies[mint]
		if !ok {
			t = &supplyTally{address: mint}
			tallies[mint] = t
		}
		return t
	}
	for _, c := range changes {
		if c.Owner() != solana.TokenProgramID {
			continue
		}
		if before, ok := tokenAccountOf(c.Before); ok {
			tally(before.Mint).balancesBefore += before.Amount
		}
		if after, ok := tokenAccountOf(c.After); ok {
			tally(after.Mint).balancesAfter += after.Amount
		}
		if before, ok := mintOf(c.Before); ok {
			tally(c.Address).supplyBefore += before.Supply
		}
		if after, ok := mintOf(c.After); ok {
			tally(c.Address).supplyAfter += after.Supply
		}
	}
	var res domain.Result
	for mint, t := range tallies {
		if t.balancesAfter+t.supplyBefore == t.balancesBefore+t.supplyAfter {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message: fmt.Sprintf("mint %s balances %d->%d but supply %d->%d",
				mint, t.balancesBefore, t.balancesAfter, t.supplyBefore, t.supplyAfter),
			Address: t.address,
		})
	}
	return res, nil
}

func tokenAccountOf(acct *domain.Account) (token.Account, bool) {
	if acct == nil || acct.Owner != solana.TokenProgramID || len(acct.Data) != token.AccountSize {
		return token.Account{}, false
	}
	state, err := token.DecodeAccount(acct.Data)
	if err != nil || !state.IsInitialized {
		return token.Account{}, false
	}
	return state, true
}

func mintOf(acct *domain.Account) (token.Mint, bool) {
	if acct == nil || acct.Owner != solana.TokenProgramID || len(acct.Data) != token.MintSize {
		return token.Mint{}, false
	}
	state, err := token.DecodeMint(acct.Data)
	if err != nil || !state.IsInitialized {
		return token.Mint{}, false
	}
	return state, true
}
