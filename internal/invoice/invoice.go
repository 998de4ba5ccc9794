// Package invoice decodes BOLT11 Lightning invoices and cross-validates them
// against swap parameters. Pure and synchronous: no network I/O.
package invoice

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// ErrNoAmount is returned when an invoice carries no amount field.
var ErrNoAmount = errors.New("invoice has no amount")

// Decoded holds the invoice fields the swap machine validates against.
type Decoded struct {
	// AmountMsat is the invoice amount in millisatoshis.
	AmountMsat uint64

	// AmountSat is the invoice amount truncated to whole satoshis, used for
	// display only. Validation always compares in millisatoshis.
	AmountSat btcutil.Amount

	// PaymentHashHex is the lowercase hex payment hash, without 0x prefix.
	PaymentHashHex string

	// ExpiresAt is the invoice expiry time.
	ExpiresAt time.Time
}

// Validator decodes invoices for a fixed network.
type Validator struct {
	net *chaincfg.Params
}

// NewValidator creates a validator for the given network parameters.
func NewValidator(net *chaincfg.Params) *Validator {
	return &Validator{net: net}
}

// Decode parses a BOLT11 invoice string.
func (v *Validator) Decode(invoice string) (*Decoded, error) {
	bolt11, err := zpay32.Decode(invoice, v.net)
	if err != nil {
		return nil, err
	}
	if bolt11.MilliSat == nil {
		return nil, ErrNoAmount
	}

	return &Decoded{
		AmountMsat:     uint64(*bolt11.MilliSat),
		AmountSat:      bolt11.MilliSat.ToSatoshis(),
		PaymentHashHex: hex.EncodeToString(bolt11.PaymentHash[:]),
		ExpiresAt:      bolt11.Timestamp.Add(bolt11.Expiry()),
	}, nil
}

// AmountMatches reports whether the invoice amount equals the expected swap
// amount. The comparison is done in millisatoshis as integers, exact: a swap
// amount is satoshi-scale, so the invoice must carry amount*1000 msat with no
// sub-satoshi remainder. Decode failures yield false, never an error.
func (v *Validator) AmountMatches(invoice string, expectedSats uint64) bool {
	decoded, err := v.Decode(invoice)
	if err != nil {
		return false
	}
	return decoded.AmountMsat == expectedSats*1000
}

// HashLockMatches reports whether the invoice payment hash, prefixed with the
// chain's 0x hex marker, equals the expected hashlock exactly
// (case-sensitive). Decode failures yield false, never an error.
func (v *Validator) HashLockMatches(invoice string, expectedHashLockHex string) bool {
	decoded, err := v.Decode(invoice)
	if err != nil {
		return false
	}
	return "0x"+decoded.PaymentHashHex == expectedHashLockHex
}
