package swap

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"

	"github.com/lnbridge-exchange/lnbridge/internal/contracts/htlc"
	"github.com/lnbridge-exchange/lnbridge/internal/invoice"
	"github.com/lnbridge-exchange/lnbridge/internal/storage"
)

var errDecodeFailed = errors.New("checksum failed")

const (
	testInvoice     = "lnbc2500u1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdq5xysxxatsyp3k7enxv4jsxqzpuaztrnwngzn3kdzw5hydlzf03qdgm2hdq27cqv3agm2awhz5se903vruatfhq77w3ls4evs3ch9zw97j25emudupq63nyw24cg27h2rspfj9srp"
	testTxHash      = "0x1111111111111111111111111111111111111111111111111111111111111111"
	testPaymentHash = "0001020304050607080900010203040506070809000102030405060708090102"
)

// stubVerifier scripts chain verification results.
type stubVerifier struct {
	confirm bool
	onChain *htlc.Swap
	readErr error
}

func (s *stubVerifier) ConfirmTransaction(ctx context.Context, txHash string) bool {
	return s.confirm
}

func (s *stubVerifier) ReadOnChainSwap(ctx context.Context, paymentHashHex string) (*htlc.Swap, error) {
	return s.onChain, s.readErr
}

// stubInvoices scripts invoice decode and match results.
type stubInvoices struct {
	decoded   *invoice.Decoded
	decodeErr error
	amountOK  bool
	hashOK    bool
}

func (s *stubInvoices) Decode(inv string) (*invoice.Decoded, error) {
	return s.decoded, s.decodeErr
}

func (s *stubInvoices) AmountMatches(inv string, expectedSats uint64) bool {
	return s.amountOK
}

func (s *stubInvoices) HashLockMatches(inv string, expectedHashLockHex string) bool {
	return s.hashOK
}

// recordingNotifier captures delivered notifications.
type notification struct {
	chatID int64
	text   string
	action string
}

type recordingNotifier struct {
	sent []notification
}

func (r *recordingNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	r.sent = append(r.sent, notification{chatID: chatID, text: text})
	return nil
}

func (r *recordingNotifier) NotifyWithAction(ctx context.Context, chatID int64, text, label string, swap *storage.Swap) error {
	r.sent = append(r.sent, notification{chatID: chatID, text: text, action: label})
	return nil
}

func (r *recordingNotifier) sentTo(chatID int64) []notification {
	var out []notification
	for _, n := range r.sent {
		if n.chatID == chatID {
			out = append(out, n)
		}
	}
	return out
}

// testHarness bundles the machine with its stubs over a real temp store.
type testHarness struct {
	machine  *Machine
	store    *storage.Storage
	verifier *stubVerifier
	invoices *stubInvoices
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "lnbridge-swap-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var hashLock [32]byte
	for i := range hashLock {
		hashLock[i] = byte(i % 10)
	}

	verifier := &stubVerifier{
		confirm: true,
		onChain: &htlc.Swap{
			Amount:   big.NewInt(1000000),
			HashLock: hashLock,
			TimeLock: big.NewInt(1700000000),
		},
	}
	invoices := &stubInvoices{
		decoded:  &invoice.Decoded{AmountMsat: 1000000000, PaymentHashHex: testPaymentHash},
		amountOK: true,
		hashOK:   true,
	}
	notifier := &recordingNotifier{}

	return &testHarness{
		machine: NewMachine(&MachineConfig{
			Store:    store,
			Verifier: verifier,
			Invoices: invoices,
			Notifier: notifier,
		}),
		store:    store,
		verifier: verifier,
		invoices: invoices,
		notifier: notifier,
	}
}

func (h *testHarness) mustCreate(t *testing.T, chatID int64, destination string) *storage.Swap {
	t.Helper()
	swap, err := h.machine.Create(context.Background(), chatID, "", destination, 1000000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return swap
}

func (h *testHarness) mustSelect(t *testing.T, swapID string, selector int64) *storage.Swap {
	t.Helper()
	swap, err := h.machine.Select(context.Background(), swapID, selector)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	return swap
}

func (h *testHarness) mustLock(t *testing.T, swapID string) *storage.Swap {
	t.Helper()
	swap, err := h.machine.VerifyAndLock(context.Background(), swapID, testTxHash, testInvoice)
	if err != nil {
		t.Fatalf("VerifyAndLock() error = %v", err)
	}
	return swap
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.machine.Create(ctx, 100, "", "Lightning", 0); KindOf(err) != FailValidation {
		t.Errorf("Create(amount=0) kind = %v, want validation", KindOf(err))
	}
	if _, err := h.machine.Create(ctx, 100, "", "DOGE", 10); KindOf(err) != FailValidation {
		t.Errorf("Create(bad destination) kind = %v, want validation", KindOf(err))
	}
	if _, err := h.machine.Create(ctx, 100, "Lightning", "Lightning", 10); KindOf(err) != FailValidation {
		t.Errorf("Create(same assets) kind = %v, want validation", KindOf(err))
	}

	// Nothing was written
	swaps, err := h.machine.List("", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(swaps) != 0 {
		t.Errorf("List() after rejected creates = %d swaps, want 0", len(swaps))
	}
}

func TestCreatePending(t *testing.T) {
	h := newHarness(t)

	swap := h.mustCreate(t, 100, "Lightning")
	if swap.Status != storage.StatusPending {
		t.Errorf("Status = %s, want pending", swap.Status)
	}
	if swap.Source != "ETH" {
		t.Errorf("Source = %s, want ETH", swap.Source)
	}
	if swap.Amount != 1000000 {
		t.Errorf("Amount = %d, want 1000000", swap.Amount)
	}
	if swap.ID == "" {
		t.Error("swap id not assigned")
	}
}

func TestListByTag(t *testing.T) {
	h := newHarness(t)

	h.mustCreate(t, 100, "Lightning")
	h.mustCreate(t, 200, "ETH")

	all, err := h.machine.List("", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List(all) = %d swaps, want 2", len(all))
	}

	ln, err := h.machine.List("Lightning", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ln) != 1 || ln[0].Destination != "Lightning" {
		t.Fatalf("List(Lightning) = %+v, want one Lightning swap", ln)
	}
}

func TestSelect(t *testing.T) {
	h := newHarness(t)

	created := h.mustCreate(t, 100, "Lightning")
	swap := h.mustSelect(t, created.ID, 200)

	if swap.Status != storage.StatusSelected {
		t.Errorf("Status = %s, want selected", swap.Status)
	}
	if swap.SelectorChatID != 200 {
		t.Errorf("SelectorChatID = %d, want 200", swap.SelectorChatID)
	}

	// Creator was told to lock funds (destination is Lightning)
	msgs := h.notifier.sentTo(100)
	if len(msgs) != 1 {
		t.Fatalf("creator notifications = %d, want 1", len(msgs))
	}
	if msgs[0].action != "Lock funds" {
		t.Errorf("creator call-to-action = %q, want Lock funds", msgs[0].action)
	}

	// Selecting again must fail: no pending record remains
	if _, err := h.machine.Select(context.Background(), created.ID, 300); KindOf(err) != FailNotFound {
		t.Errorf("second Select() kind = %v, want not_found", KindOf(err))
	}

	// Unknown id
	if _, err := h.machine.Select(context.Background(), "no-such-id", 300); KindOf(err) != FailNotFound {
		t.Errorf("Select(unknown) kind = %v, want not_found", KindOf(err))
	}
}

func TestSelectBaseChainDestination(t *testing.T) {
	h := newHarness(t)

	created := h.mustCreate(t, 100, "ETH")
	h.mustSelect(t, created.ID, 200)

	// Creator receives the base asset: the counterparty locks, so the
	// creator gets plain instructions without a lock call-to-action.
	msgs := h.notifier.sentTo(100)
	if len(msgs) != 1 {
		t.Fatalf("creator notifications = %d, want 1", len(msgs))
	}
	if msgs[0].action != "" {
		t.Errorf("creator call-to-action = %q, want none", msgs[0].action)
	}
}

func TestVerifyAndLock(t *testing.T) {
	h := newHarness(t)

	created := h.mustCreate(t, 100, "Lightning")
	h.mustSelect(t, created.ID, 200)

	swap := h.mustLock(t, created.ID)
	if swap.Status != storage.StatusLocked {
		t.Errorf("Status = %s, want locked", swap.Status)
	}
	if swap.Invoice != testInvoice {
		t.Error("invoice not persisted on lock")
	}

	// The selector pays the invoice when the creator receives Lightning
	msgs := h.notifier.sentTo(200)
	if len(msgs) != 1 {
		t.Fatalf("selector notifications = %d, want 1", len(msgs))
	}
	if msgs[0].action != "Pay invoice" {
		t.Errorf("selector call-to-action = %q, want Pay invoice", msgs[0].action)
	}

	// The persisted record agrees
	got, err := h.store.FindOne(storage.Filter{ID: created.ID})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if got.Status != storage.StatusLocked || got.Invoice != testInvoice {
		t.Errorf("persisted swap = %s/%q, want locked/invoice", got.Status, got.Invoice)
	}
}

func TestVerifyAndLockFailures(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(h *testHarness)
		wantKind FailureKind
	}{
		{
			name:     "invalid invoice",
			prepare:  func(h *testHarness) { h.invoices.decoded = nil; h.invoices.decodeErr = errDecodeFailed },
			wantKind: FailInvalidInvoice,
		},
		{
			name:     "transaction not confirmed",
			prepare:  func(h *testHarness) { h.verifier.confirm = false },
			wantKind: FailTransactionNotValid,
		},
		{
			name:     "swap not on chain",
			prepare:  func(h *testHarness) { h.verifier.onChain = nil },
			wantKind: FailSwapNotOnChain,
		},
		{
			name:     "amount mismatch",
			prepare:  func(h *testHarness) { h.invoices.amountOK = false },
			wantKind: FailAmountMismatch,
		},
		{
			name:     "hashlock mismatch",
			prepare:  func(h *testHarness) { h.invoices.hashOK = false },
			wantKind: FailHashLockMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			created := h.mustCreate(t, 100, "Lightning")
			h.mustSelect(t, created.ID, 200)
			tt.prepare(h)

			_, err := h.machine.VerifyAndLock(context.Background(), created.ID, testTxHash, testInvoice)
			if KindOf(err) != tt.wantKind {
				t.Fatalf("VerifyAndLock() kind = %v, want %v", KindOf(err), tt.wantKind)
			}

			// The transition must not be committed: status stays selected,
			// no invoice persisted.
			got, err := h.store.FindOne(storage.Filter{ID: created.ID})
			if err != nil {
				t.Fatalf("FindOne() error = %v", err)
			}
			if got.Status != storage.StatusSelected {
				t.Errorf("Status after failed lock = %s, want selected", got.Status)
			}
			if got.Invoice != "" {
				t.Errorf("Invoice after failed lock = %q, want empty", got.Invoice)
			}
		})
	}
}

func TestLockRequiresSelected(t *testing.T) {
	h := newHarness(t)

	// Locking a swap that is still pending must be rejected
	created := h.mustCreate(t, 100, "Lightning")
	if _, err := h.machine.VerifyAndLock(context.Background(), created.ID, testTxHash, testInvoice); KindOf(err) != FailNotFound {
		t.Errorf("VerifyAndLock(pending) kind = %v, want not_found", KindOf(err))
	}
}

func TestFinish(t *testing.T) {
	h := newHarness(t)

	created := h.mustCreate(t, 100, "Lightning")
	h.mustSelect(t, created.ID, 200)
	h.mustLock(t, created.ID)

	swap, err := h.machine.Finish(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if swap.Status != storage.StatusFinished {
		t.Errorf("Status = %s, want finished", swap.Status)
	}

	// Amount is unchanged from creation
	if swap.Amount != 1000000 {
		t.Errorf("Amount at finish = %d, want 1000000", swap.Amount)
	}

	// Both parties were notified about completion
	creatorBefore := len(h.notifier.sentTo(100))
	selectorBefore := len(h.notifier.sentTo(200))
	if creatorBefore == 0 || selectorBefore == 0 {
		t.Fatal("finish did not notify both parties")
	}

	// Finishing again must return not_found and not re-notify
	if _, err := h.machine.Finish(context.Background(), created.ID); KindOf(err) != FailNotFound {
		t.Errorf("second Finish() kind = %v, want not_found", KindOf(err))
	}
	if len(h.notifier.sentTo(100)) != creatorBefore || len(h.notifier.sentTo(200)) != selectorBefore {
		t.Error("second Finish() sent notifications")
	}
}

func TestFinishRequiresLocked(t *testing.T) {
	h := newHarness(t)

	created := h.mustCreate(t, 100, "Lightning")
	h.mustSelect(t, created.ID, 200)

	// A selected-but-never-locked swap cannot be finished
	if _, err := h.machine.Finish(context.Background(), created.ID); KindOf(err) != FailNotFound {
		t.Errorf("Finish(selected) kind = %v, want not_found", KindOf(err))
	}

	got, _ := h.store.FindOne(storage.Filter{ID: created.ID})
	if got.Status != storage.StatusSelected {
		t.Errorf("Status = %s, want selected", got.Status)
	}
}

func TestRefundFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := h.mustCreate(t, 100, "Lightning")
	h.mustSelect(t, created.ID, 200)
	h.mustLock(t, created.ID)

	// Requesting a refund does not flip the status
	if _, err := h.machine.RequestRefund(ctx, created.ID); err != nil {
		t.Fatalf("RequestRefund() error = %v", err)
	}
	got, _ := h.store.FindOne(storage.Filter{ID: created.ID})
	if got.Status != storage.StatusLocked {
		t.Errorf("Status after refund request = %s, want locked", got.Status)
	}

	// Confirming the refund does
	swap, err := h.machine.ConfirmRefund(ctx, created.ID)
	if err != nil {
		t.Fatalf("ConfirmRefund() error = %v", err)
	}
	if swap.Status != storage.StatusRefunded {
		t.Errorf("Status = %s, want refunded", swap.Status)
	}

	// Terminal: neither finish nor another refund is possible
	if _, err := h.machine.Finish(ctx, created.ID); KindOf(err) != FailNotFound {
		t.Errorf("Finish(refunded) kind = %v, want not_found", KindOf(err))
	}
	if _, err := h.machine.ConfirmRefund(ctx, created.ID); KindOf(err) != FailNotFound {
		t.Errorf("second ConfirmRefund() kind = %v, want not_found", KindOf(err))
	}
}

func TestDeleteGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := h.mustCreate(t, 100, "Lightning")

	// Wrong caller
	if err := h.machine.Delete(ctx, created.ID, 999); KindOf(err) != FailForbidden {
		t.Errorf("Delete(wrong caller) kind = %v, want forbidden", KindOf(err))
	}

	// Selected swaps cannot be deleted
	h.mustSelect(t, created.ID, 200)
	if err := h.machine.Delete(ctx, created.ID, 100); KindOf(err) != FailForbidden {
		t.Errorf("Delete(selected) kind = %v, want forbidden", KindOf(err))
	}

	// The record is untouched
	got, err := h.store.FindOne(storage.Filter{ID: created.ID})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if got.Status != storage.StatusSelected {
		t.Errorf("Status = %s, want selected", got.Status)
	}

	// Unknown id
	if err := h.machine.Delete(ctx, "no-such-id", 100); KindOf(err) != FailNotFound {
		t.Errorf("Delete(unknown) kind = %v, want not_found", KindOf(err))
	}

	// Happy path on a fresh pending swap
	fresh := h.mustCreate(t, 100, "Lightning")
	if err := h.machine.Delete(ctx, fresh.ID, 100); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := h.store.FindOne(storage.Filter{ID: fresh.ID}); err != storage.ErrSwapNotFound {
		t.Errorf("FindOne(deleted) error = %v, want ErrSwapNotFound", err)
	}
}

func TestLifecycleEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// create by chat A
	created := h.mustCreate(t, 100, "Lightning")
	if created.Status != storage.StatusPending || created.ChatID != 100 {
		t.Fatalf("created = %+v, want pending swap by 100", created)
	}

	// select by chat B
	selected := h.mustSelect(t, created.ID, 200)
	if selected.SelectorChatID != 200 {
		t.Fatalf("SelectorChatID = %d, want 200", selected.SelectorChatID)
	}

	// lock with verified transaction and invoice
	locked := h.mustLock(t, created.ID)
	if locked.Invoice == "" {
		t.Fatal("locked swap has no invoice")
	}

	// finish notifies both parties
	finished, err := h.machine.Finish(ctx, created.ID)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if finished.Status != storage.StatusFinished {
		t.Fatalf("Status = %s, want finished", finished.Status)
	}
	if finished.Amount != created.Amount {
		t.Errorf("Amount changed during lifecycle: %d != %d", finished.Amount, created.Amount)
	}
	if len(h.notifier.sentTo(100)) == 0 || len(h.notifier.sentTo(200)) == 0 {
		t.Error("both parties should have been notified")
	}
}
