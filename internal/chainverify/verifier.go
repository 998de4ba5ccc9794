// Package chainverify confirms externally reported swap events against the
// base chain: transaction inclusion and on-chain swap parameters.
//
// Both operations poll with a fixed interval up to a fixed attempt ceiling,
// so a call can block its caller for the whole polling window (tens of
// seconds). Callers pass a context and must treat these as slow calls.
package chainverify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/lnbridge-exchange/lnbridge/internal/contracts/htlc"
	"github.com/lnbridge-exchange/lnbridge/pkg/helpers"
	"github.com/lnbridge-exchange/lnbridge/pkg/logging"
)

// ChainReader is the read interface the verifier needs from the HTLC client.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	GetSwapByHash(ctx context.Context, hashLock [32]byte) (*htlc.Swap, error)
}

// Config holds polling parameters.
type Config struct {
	// PollInterval is the delay between attempts.
	PollInterval time.Duration

	// PollAttempts is the retry ceiling.
	PollAttempts int
}

// DefaultConfig returns the standard polling window: 5 attempts, 10s apart.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		PollAttempts: 5,
	}
}

// Verifier polls the base chain for confirmation of reported swap events.
type Verifier struct {
	reader ChainReader
	cfg    Config
	log    *logging.Logger
}

// New creates a verifier over the given chain reader.
func New(reader ChainReader, cfg Config) *Verifier {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultConfig().PollAttempts
	}
	return &Verifier{
		reader: reader,
		cfg:    cfg,
		log:    logging.GetDefault().Component("chainverify"),
	}
}

// ConfirmTransaction polls the receipt lookup for the transaction hash.
// Returns true on the first successful lookup, false after exhausting
// attempts or when the context is cancelled. A not-yet-found transaction
// is never an error, just another attempt.
func (v *Verifier) ConfirmTransaction(ctx context.Context, txHash string) bool {
	raw, err := helpers.HexToBytes(txHash)
	if err != nil || len(raw) != common.HashLength {
		v.log.Warn("Malformed transaction hash", "tx", txHash)
		return false
	}
	hash := common.BytesToHash(raw)

	for attempt := 1; attempt <= v.cfg.PollAttempts; attempt++ {
		receipt, err := v.reader.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			v.log.Debug("Transaction confirmed", "tx", txHash, "attempt", attempt)
			return true
		}
		if err != nil && !errors.Is(err, htlc.ErrTxNotFound) {
			v.log.Warn("Receipt lookup failed", "tx", txHash, "attempt", attempt, "error", err)
		}

		if attempt == v.cfg.PollAttempts {
			break
		}
		if !v.wait(ctx) {
			return false
		}
	}

	v.log.Info("Transaction not confirmed after polling window", "tx", txHash, "attempts", v.cfg.PollAttempts)
	return false
}

// ReadOnChainSwap polls the contract read method for the swap committed under
// the given payment hash. Returns (nil, nil) after exhausting attempts without
// finding a swap; a malformed payment hash is an error.
func (v *Verifier) ReadOnChainSwap(ctx context.Context, paymentHashHex string) (*htlc.Swap, error) {
	raw, err := helpers.HexToBytes(paymentHashHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("malformed payment hash: %q", paymentHashHex)
	}
	var hashLock [32]byte
	copy(hashLock[:], raw)

	for attempt := 1; attempt <= v.cfg.PollAttempts; attempt++ {
		swap, err := v.reader.GetSwapByHash(ctx, hashLock)
		if err == nil && swap != nil {
			v.log.Debug("On-chain swap found", "hashlock", paymentHashHex, "attempt", attempt)
			return swap, nil
		}
		// A missing swap or an unexpected result shape both count as
		// "not yet" and are retried.
		if err != nil && !errors.Is(err, htlc.ErrSwapNotFound) {
			v.log.Warn("Contract read failed", "hashlock", paymentHashHex, "attempt", attempt, "error", err)
		}

		if attempt == v.cfg.PollAttempts {
			break
		}
		if !v.wait(ctx) {
			return nil, ctx.Err()
		}
	}

	v.log.Info("No on-chain swap after polling window", "hashlock", paymentHashHex, "attempts", v.cfg.PollAttempts)
	return nil, nil
}

// wait sleeps one poll interval, returning false if the context is cancelled.
func (v *Verifier) wait(ctx context.Context) bool {
	timer := time.NewTimer(v.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
