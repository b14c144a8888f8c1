package ledger_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"craftskins/internal/infra/persistence/memory"
	"craftskins/internal/ledger"
	"craftskins/internal/programs/system"
	"craftskins/pkg/domain"

	"github.com/gagliardetto/solana-go"
)

// probe exercises runtime privileges. The first data byte selects the action.
type probe struct {
	id solana.PublicKey
}

const (
	probeWriteData byte = iota
	probeCreate
	probeSignedTransfer
	probeRecurse
)

func (p probe) ID() solana.PublicKey { return p.id }

func (p probe) Process(ictx *ledger.InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	switch data[0] {
	case probeWriteData:
		return ictx.UpdateAccount(accounts[0].PublicKey, func(a *domain.Account) error {
			a.Data = append(a.Data, 1)
			return nil
		})
	case probeCreate:
		return ictx.CreateAccount(domain.Account{Address: accounts[0].PublicKey, Owner: p.id})
	case probeSignedTransfer:
		// accounts: [vault (w), recipient (w), system program]; data[1] is the vault bump.
		ix := system.NewTransferInstruction(accounts[0].PublicKey, accounts[1].PublicKey, 1)
		return ictx.Invoke(ix, [][]byte{[]byte("vault"), {data[1]}})
	case probeRecurse:
		ix := solana.NewInstruction(p.id, solana.AccountMetaSlice{solana.Meta(p.id)}, []byte{probeRecurse})
		return ictx.Invoke(ix)
	}
	return errors.New("probe: unknown action")
}

type harness struct {
	t      *testing.T
	ledger *ledger.Ledger
	probe  solana.PublicKey
	nonce  uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := ledger.New(memory.NewStore(nil))
	id := solana.NewWallet().PublicKey()
	l.Register(system.New(), probe{id: id})
	return &harness{t: t, ledger: l, probe: id}
}

func (h *harness) wallet(lamports uint64) solana.PrivateKey {
	h.t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		h.t.Fatalf("key: %v", err)
	}
	if err := h.ledger.Fund(context.Background(), key.PublicKey(), lamports); err != nil {
		h.t.Fatalf("fund: %v", err)
	}
	return key
}

func (h *harness) submit(payer solana.PrivateKey, signers []solana.PrivateKey, ixs ...solana.Instruction) (ledger.Receipt, error) {
	h.t.Helper()
	h.nonce++
	tx := ledger.NewTransaction(payer.PublicKey(), h.nonce, ixs...)
	if err := tx.Sign(append([]solana.PrivateKey{payer}, signers...)...); err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return h.ledger.Submit(context.Background(), tx)
}

func (h *harness) lamports(key solana.PublicKey) uint64 {
	acct, _ := h.ledger.Account(key)
	return acct.Lamports
}

func TestFundCreatesAndCredits(t *testing.T) {
	h := newHarness(t)
	key := h.wallet(100)
	if err := h.ledger.Fund(context.Background(), key.PublicKey(), 50); err != nil {
		t.Fatalf("fund: %v", err)
	}
	acct, ok := h.ledger.Account(key.PublicKey())
	if !ok || acct.Lamports != 150 || acct.Owner != solana.SystemProgramID {
		t.Fatalf("account = %+v, %v", acct, ok)
	}
	if h.ledger.Slot() != 2 {
		t.Fatalf("slot = %d, want 2", h.ledger.Slot())
	}
}

func TestSubmitTransfer(t *testing.T) {
	h := newHarness(t)
	payer := h.wallet(1_000)
	to := solana.NewWallet().PublicKey()
	if err := h.ledger.Fund(context.Background(), to, 1); err != nil {
		t.Fatalf("fund: %v", err)
	}
	receipt, err := h.submit(payer, nil, system.NewTransferInstruction(payer.PublicKey(), to, 400))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.lamports(payer.PublicKey()) != 600 || h.lamports(to) != 401 {
		t.Fatalf("balances %d/%d", h.lamports(payer.PublicKey()), h.lamports(to))
	}
	if receipt.Slot != h.ledger.Slot() || receipt.Signature == (solana.Signature{}) {
		t.Fatalf("receipt = %+v", receipt)
	}
	if len(receipt.Logs) == 0 || !strings.Contains(receipt.Logs[0], "invoke [1]") {
		t.Fatalf("logs = %v", receipt.Logs)
	}
}

func TestSubmitIsAtomic(t *testing.T) {
	h := newHarness(t)
	payer := h.wallet(1_000)
	to := h.wallet(0).PublicKey()
	receipt, err := h.submit(payer, nil,
		system.NewTransferInstruction(payer.PublicKey(), to, 700),
		system.NewTransferInstruction(payer.PublicKey(), to, 700),
	)
	var ixErr *ledger.InstructionError
	if !errors.As(err, &ixErr) || ixErr.Index != 1 || ixErr.Program != solana.SystemProgramID {
		t.Fatalf("expected instruction 1 failure, got %v", err)
	}
	if !errors.Is(err, system.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if h.lamports(payer.PublicKey()) != 1_000 || h.lamports(to) != 0 {
		t.Fatalf("failed transaction leaked effects")
	}
	if len(receipt.Logs) == 0 || !strings.Contains(receipt.Logs[len(receipt.Logs)-1], "failed") {
		t.Fatalf("failure logs = %v", receipt.Logs)
	}
}

func TestSubmitSignatureChecks(t *testing.T) {
	h := newHarness(t)
	payer := h.wallet(1_000)
	other := h.wallet(1_000)
	ix := system.NewTransferInstruction(other.PublicKey(), payer.PublicKey(), 1)

	if _, err := h.ledger.Submit(context.Background(), ledger.NewTransaction(payer.PublicKey(), 1)); !errors.Is(err, ledger.ErrEmptyTransaction) {
		t.Fatalf("expected empty transaction error, got %v", err)
	}
	if _, err := h.submit(payer, nil, ix); !errors.Is(err, ledger.ErrMissingSignature) {
		t.Fatalf("expected missing signature, got %v", err)
	}

	tx := ledger.NewTransaction(payer.PublicKey(), 99, ix)
	if err := tx.Sign(payer, other); err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Nonce++
	if _, err := h.ledger.Submit(context.Background(), tx); !errors.Is(err, ledger.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	signers := tx.RequiredSigners()
	if len(signers) != 2 || signers[0] != payer.PublicKey() || signers[1] != other.PublicKey() {
		t.Fatalf("required signers = %v", signers)
	}
}

func TestSubmitRejectsUnknownProgram(t *testing.T) {
	h := newHarness(t)
	payer := h.wallet(1_000)
	unknown := solana.NewInstruction(solana.NewWallet().PublicKey(), solana.AccountMetaSlice{}, []byte{0})
	if _, err := h.submit(payer, nil, unknown); !errors.Is(err, ledger.ErrUnknownProgram) {
		t.Fatalf("expected unknown program, got %v", err)
	}
}

func TestProgramPrivileges(t *testing.T) {
	h := newHarness(t)
	payer := h.wallet(1_000)

	foreign := solana.NewInstruction(h.probe, solana.AccountMetaSlice{solana.Meta(payer.PublicKey()).WRITE()}, []byte{probeWriteData})
	if _, err := h.submit(payer, nil, foreign); !errors.Is(err, ledger.ErrExternalAccountModified) {
		t.Fatalf("expected external modification error, got %v", err)
	}
	readonly := solana.NewInstruction(h.probe, solana.AccountMetaSlice{solana.Meta(solana.NewWallet().PublicKey())}, []byte{probeWriteData})
	if _, err := h.submit(payer, nil, readonly); !errors.Is(err, ledger.ErrReadonlyAccount) {
		t.Fatalf("expected read-only error, got %v", err)
	}
	create := solana.NewInstruction(h.probe, solana.AccountMetaSlice{solana.Meta(solana.NewWallet().PublicKey()).WRITE()}, []byte{probeCreate})
	if _, err := h.submit(payer, nil, create); !errors.Is(err, ledger.ErrAccountCreationDenied) {
		t.Fatalf("expected creation denied, got %v", err)
	}
	recurse := solana.NewInstruction(h.probe, solana.AccountMetaSlice{solana.Meta(h.probe)}, []byte{probeRecurse})
	if _, err := h.submit(payer, nil, recurse); !errors.Is(err, ledger.ErrCallDepth) {
		t.Fatalf("expected call depth error, got %v", err)
	}
}

func TestInvokeWithDerivedSigner(t *testing.T) {
	h := newHarness(t)
	payer := h.wallet(1_000)
	vault, bump, err := solana.FindProgramAddress([][]byte{[]byte("vault")}, h.probe)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if err := h.ledger.Fund(context.Background(), vault, 10); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	recipient := payer.PublicKey()
	metas := solana.AccountMetaSlice{
		solana.Meta(vault).WRITE(),
		solana.Meta(recipient).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	if _, err := h.submit(payer, nil, solana.NewInstruction(h.probe, metas, []byte{probeSignedTransfer, bump})); err != nil {
		t.Fatalf("signed transfer: %v", err)
	}
	if h.lamports(vault) != 9 || h.lamports(recipient) != 1_001 {
		t.Fatalf("balances vault=%d recipient=%d", h.lamports(vault), h.lamports(recipient))
	}
	_, err = h.submit(payer, nil, solana.NewInstruction(h.probe, metas, []byte{probeSignedTransfer, bump + 1}))
	if !errors.Is(err, ledger.ErrInvalidSeeds) && !errors.Is(err, ledger.ErrPrivilegeEscalation) {
		t.Fatalf("expected seed failure, got %v", err)
	}
}

func TestRentAndMessageHash(t *testing.T) {
	rent := ledger.DefaultRent()
	if got := rent.MinimumBalance(0); got != 128*3480*2 {
		t.Fatalf("minimum balance = %d", got)
	}
	if rent.IsExempt(rent.MinimumBalance(10)-1, 10) || !rent.IsExempt(rent.MinimumBalance(10), 10) {
		t.Fatalf("exemption threshold off by one")
	}
	payer := solana.NewWallet().PublicKey()
	ix := system.NewTransferInstruction(payer, solana.NewWallet().PublicKey(), 5)
	a, err := ledger.NewTransaction(payer, 1, ix).MessageHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, _ := ledger.NewTransaction(payer, 1, ix).MessageHash()
	c, _ := ledger.NewTransaction(payer, 2, ix).MessageHash()
	if a != b || a == c {
		t.Fatalf("hashes %s %s %s", a, b, c)
	}
}
