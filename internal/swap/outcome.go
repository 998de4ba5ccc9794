// Package swap - Typed failure outcomes for state machine transitions.
// Every operation reports either a success value or one of these kinds;
// the front-end renders the message, the machine decides the kind.
package swap

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a transition was rejected.
type FailureKind string

const (
	// FailValidation - malformed creation input, rejected before any store write.
	FailValidation FailureKind = "validation"

	// FailNotFound - no record matches the expected id+status filter.
	FailNotFound FailureKind = "not_found"

	// FailForbidden - record exists but the caller may not perform the transition.
	FailForbidden FailureKind = "forbidden"

	// FailInvalidInvoice - the invoice fails structural decode.
	FailInvalidInvoice FailureKind = "invalid_invoice"

	// FailTransactionNotValid - the reported lock transaction was never confirmed.
	FailTransactionNotValid FailureKind = "transaction_not_valid"

	// FailSwapNotOnChain - no on-chain swap found under the invoice payment hash.
	FailSwapNotOnChain FailureKind = "swap_not_on_chain"

	// FailAmountMismatch - invoice amount does not equal the swap amount.
	FailAmountMismatch FailureKind = "amount_mismatch"

	// FailHashLockMismatch - invoice payment hash does not equal the on-chain hashlock.
	FailHashLockMismatch FailureKind = "hashlock_mismatch"

	// FailChainUnavailable - chain verification aborted before a verdict.
	FailChainUnavailable FailureKind = "chain_unavailable"

	// FailStore - underlying persistence failure.
	FailStore FailureKind = "store"
)

// Failure is the error type returned by all rejected transitions.
type Failure struct {
	Kind FailureKind
	Msg  string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// UserMessage returns the text shown to the user for this failure.
func (f *Failure) UserMessage() string {
	return f.Msg
}

// failf builds a Failure with a formatted user message.
func failf(kind FailureKind, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// storeFail wraps a persistence error into a generic try-again failure.
func storeFail(err error) *Failure {
	return &Failure{Kind: FailStore, Msg: "Something went wrong, please try again.", Err: err}
}

// KindOf extracts the failure kind from an error, or "" for nil/foreign errors.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
