package system_test

import (
	"errors"
	"testing"

	"craftskins/internal/programs/system"
	"craftskins/internal/testkit"

	"github.com/gagliardetto/solana-go"
)

func TestCreateAccount(t *testing.T) {
	kit := testkit.New(t)
	funder := kit.FundedWallet(10_000_000)
	target := kit.NewKey()
	owner := kit.NewKey().PublicKey()
	rent := kit.Ledger.Rent().MinimumBalance(16)

	kit.MustSubmit(funder, []solana.PrivateKey{target}, system.NewCreateAccountInstruction(funder.PublicKey(), target.PublicKey(), rent, 16, owner))
	acct, ok := kit.Ledger.Account(target.PublicKey())
	if !ok || acct.Owner != owner || len(acct.Data) != 16 || acct.Lamports != rent {
		t.Fatalf("created account = %+v, %v", acct, ok)
	}
	payer, _ := kit.Ledger.Account(funder.PublicKey())
	if payer.Lamports != 10_000_000-rent {
		t.Fatalf("funder balance = %d", payer.Lamports)
	}

	_, err := kit.Submit(funder, []solana.PrivateKey{target}, system.NewCreateAccountInstruction(funder.PublicKey(), target.PublicKey(), rent, 16, owner))
	if !errors.Is(err, system.ErrAccountAlreadyInUse) {
		t.Fatalf("expected already in use, got %v", err)
	}
	fresh := kit.NewKey()
	_, err = kit.Submit(funder, []solana.PrivateKey{fresh}, system.NewCreateAccountInstruction(funder.PublicKey(), fresh.PublicKey(), rent-1, 16, owner))
	if !errors.Is(err, system.ErrRentNotExempt) {
		t.Fatalf("expected rent error, got %v", err)
	}
	_, err = kit.Submit(funder, []solana.PrivateKey{fresh}, system.NewCreateAccountInstruction(funder.PublicKey(), fresh.PublicKey(), 1<<40, 0, owner))
	if !errors.Is(err, system.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestTransferRequiresSystemOwnedFunder(t *testing.T) {
	kit := testkit.New(t)
	funder := kit.FundedWallet(10_000_000)
	owned := kit.NewKey()
	rent := kit.Ledger.Rent().MinimumBalance(0)
	kit.MustSubmit(funder, []solana.PrivateKey{owned}, system.NewCreateAccountInstruction(funder.PublicKey(), owned.PublicKey(), rent, 0, solana.TokenProgramID))

	_, err := kit.Submit(funder, []solana.PrivateKey{owned}, system.NewTransferInstruction(owned.PublicKey(), funder.PublicKey(), 1))
	if !errors.Is(err, system.ErrInvalidFunder) {
		t.Fatalf("expected invalid funder, got %v", err)
	}
	_, err = kit.Submit(funder, nil, solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{}, []byte{9, 0, 0, 0}))
	if !errors.Is(err, system.ErrInvalidInstruction) {
		t.Fatalf("expected invalid instruction, got %v", err)
	}
}
