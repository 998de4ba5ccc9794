// Package swap - State machine for the swap lifecycle.
//
// Statuses: pending -> selected -> locked -> {refunded | finished}.
// A pending swap may also be deleted by its creator. Every committed
// transition is a single compare-and-set update against the store: the
// precondition status is part of the update filter and a zero affected
// count means the precondition no longer holds (either the record is gone
// or a concurrent transition won the race).
package swap

import (
	"context"
	"errors"

	"github.com/lnbridge-exchange/lnbridge/internal/config"
	"github.com/lnbridge-exchange/lnbridge/internal/contracts/htlc"
	"github.com/lnbridge-exchange/lnbridge/internal/invoice"
	"github.com/lnbridge-exchange/lnbridge/internal/storage"
	"github.com/lnbridge-exchange/lnbridge/pkg/helpers"
	"github.com/lnbridge-exchange/lnbridge/pkg/logging"
)

// Verifier confirms reported transactions and reads on-chain swap state.
// Calls may block for the whole polling window.
type Verifier interface {
	ConfirmTransaction(ctx context.Context, txHash string) bool
	ReadOnChainSwap(ctx context.Context, paymentHashHex string) (*htlc.Swap, error)
}

// InvoiceValidator decodes and cross-validates Lightning invoices.
type InvoiceValidator interface {
	Decode(invoice string) (*invoice.Decoded, error)
	AmountMatches(invoice string, expectedSats uint64) bool
	HashLockMatches(invoice string, expectedHashLockHex string) bool
}

// Notifier delivers user-facing messages keyed by chat identity.
// The optional action carries the current swap document for the miniapp.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
	NotifyWithAction(ctx context.Context, chatID int64, text, label string, swap *storage.Swap) error
}

// Machine owns all legal transitions between swap statuses.
type Machine struct {
	store    *storage.Storage
	verifier Verifier
	invoices InvoiceValidator
	notifier Notifier
	log      *logging.Logger
}

// MachineConfig wires the machine's collaborators.
type MachineConfig struct {
	Store    *storage.Storage
	Verifier Verifier
	Invoices InvoiceValidator
	Notifier Notifier
}

// NewMachine creates a swap state machine.
func NewMachine(cfg *MachineConfig) *Machine {
	return &Machine{
		store:    cfg.Store,
		verifier: cfg.Verifier,
		invoices: cfg.Invoices,
		notifier: cfg.Notifier,
		log:      logging.GetDefault().Component("swap"),
	}
}

// Create validates and inserts a new pending swap offered by chatID.
// Amount is in smallest units and must be strictly positive.
func (m *Machine) Create(ctx context.Context, chatID int64, source, destination string, amount uint64) (*storage.Swap, error) {
	if amount == 0 {
		return nil, failf(FailValidation, "Amount must be a positive number.")
	}
	if !config.KnownAsset(destination) {
		return nil, failf(FailValidation, "Unknown destination asset %q. Use %s or %s.",
			destination, config.AssetLightning, config.AssetBaseChain)
	}
	if source == "" {
		source = config.CounterAsset(destination)
	}
	if source != config.CounterAsset(destination) {
		return nil, failf(FailValidation, "A swap must run between %s and %s.",
			config.AssetLightning, config.AssetBaseChain)
	}

	swap, err := m.store.Insert(&storage.Swap{
		Status:      storage.StatusPending,
		Source:      source,
		Destination: destination,
		Amount:      amount,
		ChatID:      chatID,
	})
	if err != nil {
		m.log.Error("Failed to insert swap", "chat", chatID, "error", err)
		return nil, storeFail(err)
	}

	m.log.Info("Swap created", "id", swap.ID, "destination", destination, "amount", amount)
	return swap, nil
}

// List returns pending swaps, optionally filtered by destination tag.
func (m *Machine) List(tag string, limit int) ([]*storage.Swap, error) {
	swaps, err := m.store.Find(storage.Filter{Status: storage.StatusPending}, limit)
	if err != nil {
		m.log.Error("Failed to list swaps", "error", err)
		return nil, storeFail(err)
	}
	if tag == "" {
		return swaps, nil
	}

	filtered := swaps[:0]
	for _, s := range swaps {
		if s.Destination == tag {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// Select accepts a pending swap on behalf of selectorChatID and notifies the
// creator with the asset-specific next step.
func (m *Machine) Select(ctx context.Context, swapID string, selectorChatID int64) (*storage.Swap, error) {
	swap, err := m.findOne(storage.Filter{ID: swapID, Status: storage.StatusPending})
	if err != nil {
		return nil, err
	}

	selected := storage.StatusSelected
	count, err := m.store.Update(
		storage.Filter{ID: swapID, Status: storage.StatusPending},
		storage.Patch{Status: &selected, SelectorChatID: &selectorChatID},
	)
	if err != nil {
		m.log.Error("Failed to mark swap selected", "id", swapID, "error", err)
		return nil, storeFail(err)
	}
	if count == 0 {
		// Lost the race: someone else selected or deleted it first.
		return nil, failf(FailNotFound, "Swap %s is no longer available.", swapID)
	}

	swap.Status = storage.StatusSelected
	swap.SelectorChatID = selectorChatID
	m.log.Info("Swap selected", "id", swapID, "selector", selectorChatID)

	// The on-chain locker is the party that receives Lightning: it issues
	// the invoice bound to the same hashlock it locks funds under.
	amountStr := helpers.FormatAmount(swap.Amount, 8)
	if swap.Destination == config.AssetLightning {
		m.notify(ctx, swap.ChatID,
			"Your swap of "+amountStr+" "+swap.Source+" was selected. "+
				"Lock your funds in the swap contract and submit your Lightning invoice.",
			"Lock funds", swap)
	} else {
		m.notify(ctx, swap.ChatID,
			"Your swap for "+amountStr+" "+swap.Destination+" was selected. "+
				"The counterparty will now lock funds on-chain; you will be asked to pay their invoice.",
			"", swap)
	}

	return swap, nil
}

// VerifyAndLock verifies a reported on-chain lock against the invoice and, if
// all checks pass, commits the swap to locked with the invoice attached.
//
// The four checks run in order and short-circuit on the first failure:
// transaction confirmed, on-chain swap found by payment hash, invoice amount
// equals swap amount, invoice payment hash equals the on-chain hashlock.
// Earlier notifications are not rolled back on a later failure.
func (m *Machine) VerifyAndLock(ctx context.Context, swapID, txHash, invoiceStr string) (*storage.Swap, error) {
	swap, err := m.findOne(storage.Filter{ID: swapID, Status: storage.StatusSelected})
	if err != nil {
		return nil, err
	}

	decoded, err := m.invoices.Decode(invoiceStr)
	if err != nil {
		return nil, &Failure{
			Kind: FailInvalidInvoice,
			Msg:  "That does not look like a valid Lightning invoice.",
			Err:  err,
		}
	}

	if !m.verifier.ConfirmTransaction(ctx, txHash) {
		if ctx.Err() != nil {
			return nil, failf(FailChainUnavailable, "Chain verification was interrupted, please try again.")
		}
		return nil, failf(FailTransactionNotValid, "Transaction %s could not be confirmed on-chain.", txHash)
	}

	onChain, err := m.verifier.ReadOnChainSwap(ctx, decoded.PaymentHashHex)
	if err != nil {
		return nil, &Failure{
			Kind: FailChainUnavailable,
			Msg:  "Chain verification failed, please try again.",
			Err:  err,
		}
	}
	if onChain == nil {
		return nil, failf(FailSwapNotOnChain, "No swap with this payment hash was found in the contract.")
	}

	if !m.invoices.AmountMatches(invoiceStr, swap.Amount) {
		return nil, failf(FailAmountMismatch,
			"The invoice amount does not match the swap amount of %s.", helpers.FormatAmount(swap.Amount, 8))
	}

	if !m.invoices.HashLockMatches(invoiceStr, onChain.HashLockHex()) {
		return nil, failf(FailHashLockMismatch, "The invoice payment hash does not match the on-chain hashlock.")
	}

	locked := storage.StatusLocked
	count, err := m.store.Update(
		storage.Filter{ID: swapID, Status: storage.StatusSelected},
		storage.Patch{Status: &locked, Invoice: &invoiceStr},
	)
	if err != nil {
		m.log.Error("Failed to mark swap locked", "id", swapID, "error", err)
		return nil, storeFail(err)
	}
	if count == 0 {
		return nil, failf(FailNotFound, "Swap %s is no longer awaiting a lock.", swapID)
	}

	swap.Status = storage.StatusLocked
	swap.Invoice = invoiceStr
	m.log.Info("Swap locked", "id", swapID, "tx", txHash)

	// The Lightning payer is on the other side of the destination asset.
	payer := m.lightningPayer(swap)
	m.notify(ctx, payer,
		"Funds are locked on-chain for swap "+swap.ID+". Pay the Lightning invoice to complete the swap.",
		"Pay invoice", swap)

	return swap, nil
}

// Finish marks a locked swap as finished and notifies both parties.
func (m *Machine) Finish(ctx context.Context, swapID string) (*storage.Swap, error) {
	swap, err := m.findOne(storage.Filter{ID: swapID, Status: storage.StatusLocked})
	if err != nil {
		return nil, err
	}

	finished := storage.StatusFinished
	count, err := m.store.Update(
		storage.Filter{ID: swapID, Status: storage.StatusLocked},
		storage.Patch{Status: &finished},
	)
	if err != nil {
		m.log.Error("Failed to mark swap finished", "id", swapID, "error", err)
		return nil, storeFail(err)
	}
	if count == 0 {
		return nil, failf(FailNotFound, "No active swap %s to finish.", swapID)
	}

	swap.Status = storage.StatusFinished
	m.log.Info("Swap finished", "id", swapID)

	amountStr := helpers.FormatAmount(swap.Amount, 8)
	creatorGot, selectorGot := swap.Destination, swap.Source
	m.notify(ctx, swap.ChatID,
		"Swap "+swap.ID+" is complete. You received "+amountStr+" "+creatorGot+".", "", swap)
	m.notify(ctx, swap.SelectorChatID,
		"Swap "+swap.ID+" is complete. You received "+amountStr+" "+selectorGot+".", "", swap)

	return swap, nil
}

// RequestRefund sends the creator a refund call-to-action for a locked swap.
// The status does not change here; it flips to refunded only when the refund
// is confirmed via ConfirmRefund.
func (m *Machine) RequestRefund(ctx context.Context, swapID string) (*storage.Swap, error) {
	swap, err := m.findOne(storage.Filter{ID: swapID, Status: storage.StatusLocked})
	if err != nil {
		return nil, err
	}

	m.log.Info("Refund requested", "id", swapID)
	m.notify(ctx, swap.ChatID,
		"A refund was requested for swap "+swap.ID+". Reclaim your locked funds after the timelock expires.",
		"Refund", swap)

	return swap, nil
}

// ConfirmRefund flips a locked swap to refunded after the refund transaction
// was reported, and notifies both parties.
func (m *Machine) ConfirmRefund(ctx context.Context, swapID string) (*storage.Swap, error) {
	swap, err := m.findOne(storage.Filter{ID: swapID, Status: storage.StatusLocked})
	if err != nil {
		return nil, err
	}

	refunded := storage.StatusRefunded
	count, err := m.store.Update(
		storage.Filter{ID: swapID, Status: storage.StatusLocked},
		storage.Patch{Status: &refunded},
	)
	if err != nil {
		m.log.Error("Failed to mark swap refunded", "id", swapID, "error", err)
		return nil, storeFail(err)
	}
	if count == 0 {
		return nil, failf(FailNotFound, "No active swap %s to refund.", swapID)
	}

	swap.Status = storage.StatusRefunded
	m.log.Info("Swap refunded", "id", swapID)

	m.notify(ctx, swap.ChatID, "Swap "+swap.ID+" was refunded.", "", swap)
	if swap.SelectorChatID != 0 {
		m.notify(ctx, swap.SelectorChatID, "Swap "+swap.ID+" was cancelled and refunded by the counterparty.", "", swap)
	}

	return swap, nil
}

// Delete removes a still-pending swap. Only the creator may delete, and only
// while no counterparty has selected it.
func (m *Machine) Delete(ctx context.Context, swapID string, callerChatID int64) error {
	swap, err := m.store.FindOne(storage.Filter{ID: swapID})
	if err != nil {
		if errors.Is(err, storage.ErrSwapNotFound) {
			return failf(FailNotFound, "Swap %s does not exist.", swapID)
		}
		m.log.Error("Failed to load swap", "id", swapID, "error", err)
		return storeFail(err)
	}

	if swap.Status != storage.StatusPending || swap.ChatID != callerChatID {
		return failf(FailForbidden, "Only the creator can delete a swap, and only while it is still pending.")
	}

	count, err := m.store.Delete(storage.Filter{ID: swapID, Status: storage.StatusPending, ChatID: callerChatID})
	if err != nil {
		m.log.Error("Failed to delete swap", "id", swapID, "error", err)
		return storeFail(err)
	}
	if count == 0 {
		// Selected or removed between the check and the delete.
		return failf(FailForbidden, "Swap %s can no longer be deleted.", swapID)
	}

	m.log.Info("Swap deleted", "id", swapID, "chat", callerChatID)
	m.notify(ctx, callerChatID, "Your pending swap "+swapID+" was deleted.", "", nil)
	return nil
}

// lightningPayer returns the chat identity of the party that pays the invoice.
func (m *Machine) lightningPayer(swap *storage.Swap) int64 {
	if swap.Destination == config.AssetLightning {
		return swap.SelectorChatID
	}
	return swap.ChatID
}

// findOne loads the swap matching the filter, mapping store errors to outcomes.
func (m *Machine) findOne(f storage.Filter) (*storage.Swap, error) {
	swap, err := m.store.FindOne(f)
	if err != nil {
		if errors.Is(err, storage.ErrSwapNotFound) {
			return nil, failf(FailNotFound, "No swap found for that request.")
		}
		m.log.Error("Failed to load swap", "filter", f, "error", err)
		return nil, storeFail(err)
	}
	return swap, nil
}

// notify delivers a message, logging failures. Transitions are already
// committed by the time notifications go out; a delivery failure never rolls
// back a transition.
func (m *Machine) notify(ctx context.Context, chatID int64, text, actionLabel string, swap *storage.Swap) {
	if chatID == 0 {
		return
	}

	var err error
	if actionLabel != "" && swap != nil {
		err = m.notifier.NotifyWithAction(ctx, chatID, text, actionLabel, swap)
	} else {
		err = m.notifier.Notify(ctx, chatID, text)
	}
	if err != nil {
		m.log.Error("Failed to deliver notification", "chat", chatID, "error", err)
	}
}
