package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	owner := key(9)
	_, err := store.RunInTransaction(ctx, LockSet{Writable: []solana.PublicKey{key(1)}}, func(tx Transaction) error {
		if _, ok := tx.FindAccount(key(1)); ok {
			t.Fatalf("expected missing account lookup")
		}
		if _, err := tx.CreateAccount(Account{Address: key(1), Owner: owner, Lamports: 10, Data: []byte{1}}); err != nil {
			return err
		}
		view := tx.Snapshot()
		if len(view.ListAccountsByOwner(owner)) != 1 {
			t.Fatalf("snapshot should include pending account")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListAccounts()) != 1 {
		t.Fatalf("expected persisted account")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListAccounts()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	got, ok := store.GetAccount(key(1))
	if !ok {
		t.Fatalf("expected restored account")
	}
	want := Account{Address: key(1), Owner: owner, Lamports: 10, Data: []byte{1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("restored account mismatch (-want +got):\n%s", diff)
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
}

func TestStoreFailedTransactionLeavesNoTrace(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	seed(t, store, Account{Address: key(1), Lamports: 5})
	boom := errors.New("boom")
	_, err := store.RunInTransaction(ctx, LockSet{Writable: []solana.PublicKey{key(1), key(2)}}, func(tx Transaction) error {
		if _, err := tx.UpdateAccount(key(1), func(a *Account) error { a.Lamports = 0; return nil }); err != nil {
			return err
		}
		if _, err := tx.CreateAccount(Account{Address: key(2), Lamports: 5}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	acct, _ := store.GetAccount(key(1))
	if acct.Lamports != 5 {
		t.Fatalf("expected untouched balance, got %d", acct.Lamports)
	}
	if _, ok := store.GetAccount(key(2)); ok {
		t.Fatalf("account created by failed transaction is visible")
	}
}

func TestStoreRejectsUndeclaredWrites(t *testing.T) {
	store := NewStore(nil)
	seed(t, store, Account{Address: key(1), Lamports: 5})
	_, err := store.RunInTransaction(context.Background(), LockSet{Readonly: []solana.PublicKey{key(1)}}, func(tx Transaction) error {
		_, err := tx.UpdateAccount(key(1), func(a *Account) error { a.Lamports++; return nil })
		return err
	})
	if !errors.Is(err, domain.ErrAccountNotWritable) {
		t.Fatalf("expected not writable, got %v", err)
	}
}

func TestStoreCreateUpdateDeleteErrors(t *testing.T) {
	store := NewStore(nil)
	seed(t, store, Account{Address: key(1)})
	locks := LockSet{Writable: []solana.PublicKey{key(1), key(2)}}
	_, err := store.RunInTransaction(context.Background(), locks, func(tx Transaction) error {
		if _, err := tx.CreateAccount(Account{Address: key(1)}); !errors.Is(err, domain.ErrAccountExists) {
			t.Fatalf("expected exists, got %v", err)
		}
		if _, err := tx.UpdateAccount(key(2), func(*Account) error { return nil }); !errors.Is(err, domain.ErrAccountNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := tx.DeleteAccount(key(2)); !errors.Is(err, domain.ErrAccountNotFound) {
			t.Fatalf("expected not found on delete, got %v", err)
		}
		if err := tx.DeleteAccount(key(1)); err != nil {
			return err
		}
		if _, ok := tx.FindAccount(key(1)); ok {
			t.Fatalf("deleted account still visible in overlay")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if _, ok := store.GetAccount(key(1)); ok {
		t.Fatalf("expected account deleted")
	}
}

func TestStoreRuleViolationBlocksCommit(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), LockSet{Writable: []solana.PublicKey{key(1)}}, func(tx Transaction) error {
		_, e := tx.CreateAccount(Account{Address: key(1)})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if _, ok := store.GetAccount(key(1)); ok {
		t.Fatalf("blocked transaction committed")
	}
}

func TestStoreRulesSeeNetChanges(t *testing.T) {
	rec := &recordingRule{}
	engine := domain.NewRulesEngine()
	engine.Register(rec)
	store := NewStore(engine)
	seed(t, store, Account{Address: key(1), Lamports: 5}, Account{Address: key(3), Lamports: 1})
	rec.changes = nil

	locks := LockSet{Writable: []solana.PublicKey{key(1), key(2), key(3)}}
	_, err := store.RunInTransaction(context.Background(), locks, func(tx Transaction) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.UpdateAccount(key(1), func(a *Account) error { a.Lamports++; return nil }); err != nil {
				return err
			}
		}
		if _, err := tx.CreateAccount(Account{Address: key(2)}); err != nil {
			return err
		}
		if err := tx.DeleteAccount(key(2)); err != nil {
			return err
		}
		_, err := tx.UpdateAccount(key(3), func(*Account) error { return nil })
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if len(rec.changes) != 1 {
		t.Fatalf("expected a single net change, got %+v", rec.changes)
	}
	change := rec.changes[0]
	if change.Action != domain.ActionUpdate || change.Before.Lamports != 5 || change.After.Lamports != 8 {
		t.Fatalf("unexpected net change %+v", change)
	}
}

func TestStoreConcurrentTransfersSerialize(t *testing.T) {
	store := NewStore(nil)
	seed(t, store, Account{Address: key(1), Lamports: 1000}, Account{Address: key(2)}, Account{Address: key(3)})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate declaration order; locks must still be taken in address order.
			dest := key(2 + byte(i%2))
			writable := []solana.PublicKey{key(1), dest}
			if i%3 == 0 {
				writable = []solana.PublicKey{dest, key(1)}
			}
			_, err := store.RunInTransaction(context.Background(), LockSet{Writable: writable}, func(tx Transaction) error {
				if _, err := tx.UpdateAccount(key(1), func(a *Account) error { a.Lamports -= 10; return nil }); err != nil {
					return err
				}
				_, err := tx.UpdateAccount(dest, func(a *Account) error { a.Lamports += 10; return nil })
				return err
			})
			if err != nil {
				t.Errorf("transfer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	var total uint64
	for _, acct := range store.ListAccounts() {
		total += acct.Lamports
	}
	if total != 1000 {
		t.Fatalf("lamports not conserved: %d", total)
	}
	src, _ := store.GetAccount(key(1))
	if src.Lamports != 500 {
		t.Fatalf("expected 500 remaining, got %d", src.Lamports)
	}
}

func TestStoreCancelledContextNeverRuns(t *testing.T) {
	store := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	_, err := store.RunInTransaction(ctx, LockSet{}, func(Transaction) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || ran {
		t.Fatalf("expected cancellation before execution, err=%v ran=%v", err, ran)
	}
}

func TestViewListsAccountsInAddressOrder(t *testing.T) {
	store := NewStore(nil)
	seed(t, store, Account{Address: key(3)}, Account{Address: key(1)}, Account{Address: key(2), Owner: key(7)})
	err := store.View(context.Background(), func(view TransactionView) error {
		accounts := view.ListAccounts()
		for i := 1; i < len(accounts); i++ {
			if binary.BigEndian.Uint16(accounts[i-1].Address[:2]) > binary.BigEndian.Uint16(accounts[i].Address[:2]) {
				t.Fatalf("accounts not sorted: %v", accounts)
			}
		}
		if owned := view.ListAccountsByOwner(key(7)); len(owned) != 1 || owned[0].Address != key(2) {
			t.Fatalf("unexpected owner listing %+v", owned)
		}
		if _, ok := view.FindAccount(key(4)); ok {
			t.Fatalf("unexpected account")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func seed(t *testing.T, store *Store, accounts ...Account) {
	t.Helper()
	locks := LockSet{}
	for _, a := range accounts {
		locks.Writable = append(locks.Writable, a.Address)
	}
	_, err := store.RunInTransaction(context.Background(), locks, func(tx Transaction) error {
		for _, a := range accounts {
			if _, err := tx.CreateAccount(a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

type recordingRule struct {
	changes []domain.Change
}

func (*recordingRule) Name() string { return "record" }

func (r *recordingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	r.changes = append([]domain.Change(nil), changes...)
	return domain.Result{}, nil
}

func TestRunDurableWriteFailureDiscardsChanges(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	locks := LockSet{Writable: []solana.PublicKey{key(1), key(2)}}
	if _, err := store.RunInTransaction(ctx, locks, func(tx Transaction) error {
		_, err := tx.CreateAccount(Account{Address: key(2), Lamports: 4})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("disk full")
	var gotUpserts []Account
	var gotDeletes []solana.PublicKey
	_, err := store.RunDurable(ctx, locks, func(_ context.Context, upserts []Account, deletes []solana.PublicKey) error {
		gotUpserts, gotDeletes = upserts, deletes
		return boom
	}, func(tx Transaction) error {
		if _, err := tx.CreateAccount(Account{Address: key(1), Lamports: 5}); err != nil {
			return err
		}
		return tx.DeleteAccount(key(2))
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	if diff := cmp.Diff([]Account{{Address: key(1), Lamports: 5}}, gotUpserts); diff != "" {
		t.Fatalf("upserts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]solana.PublicKey{key(2)}, gotDeletes); diff != "" {
		t.Fatalf("deletes mismatch (-want +got):\n%s", diff)
	}
	if _, ok := store.GetAccount(key(1)); ok {
		t.Fatalf("account created by failed write is visible")
	}
	if _, ok := store.GetAccount(key(2)); !ok {
		t.Fatalf("account deleted by failed write is gone")
	}
}

func TestRestoreStateWaitsForRunningTransactions(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		_, err := store.RunInTransaction(ctx, LockSet{Writable: []solana.PublicKey{key(1)}}, func(tx Transaction) error {
			close(started)
			<-release
			_, err := tx.CreateAccount(Account{Address: key(1), Lamports: 1})
			return err
		})
		txDone <- err
	}()
	<-started

	snap := Snapshot{Accounts: map[string]Account{key(3).String(): {Address: key(3), Lamports: 3}}}
	restored := make(chan error, 1)
	go func() { restored <- store.RestoreState(ctx, snap) }()
	select {
	case err := <-restored:
		t.Fatalf("restore finished while a transaction was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-txDone; err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if err := <-restored; err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, ok := store.GetAccount(key(1)); ok {
		t.Fatalf("transaction committed into the restored state")
	}
	if _, ok := store.GetAccount(key(3)); !ok {
		t.Fatalf("restored account missing")
	}
}
