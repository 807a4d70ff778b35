// Package ledger notarizes receipt proof hashes on a tamper-evident log.
//
// Every backend is idempotent: notarizing a proof hash that is already
// recorded with the same timestamp returns the existing record instead of
// creating a second one.
package ledger

import (
	"context"
	"errors"
	"strconv"

	"github.com/Mindburn-Labs/verichat/pkg/crypto"
)

var (
	// ErrNotFound is returned when no record exists for a proof hash.
	ErrNotFound = errors.New("ledger: not found")
	// ErrConflict is returned when a proof hash is already recorded with a
	// different timestamp.
	ErrConflict = errors.New("ledger: conflicting record")
	// ErrUnavailable is returned when the ledger backend cannot be reached.
	ErrUnavailable = errors.New("ledger: unavailable")
	// ErrInvalidProof is returned when an inclusion proof does not verify.
	ErrInvalidProof = errors.New("ledger: invalid inclusion proof")
)

// Record is one notarized proof hash.
type Record struct {
	ProofHash      string          `json:"proof_hash"`
	Timestamp      int64           `json:"timestamp"`
	TxHash         string          `json:"tx_hash"`
	LogIndex       int64           `json:"log_index"`
	InclusionProof *InclusionProof `json:"inclusion_proof,omitempty"`
}

// Ledger is a notarization backend.
type Ledger interface {
	// Notarize records proofHash at timestamp. Resubmitting an identical
	// pair returns the existing record.
	Notarize(ctx context.Context, proofHash string, timestamp int64) (*Record, error)

	// Lookup returns the record for proofHash or ErrNotFound.
	Lookup(ctx context.Context, proofHash string) (*Record, error)

	// ID names the backend, recorded in receipts.
	ID() string
}

// LeafData is the canonical byte string logged for one notarization.
func LeafData(proofHash string, timestamp int64) []byte {
	return []byte(proofHash + ":" + strconv.FormatInt(timestamp, 10))
}

// leafTxHash is the transaction hash used by backends without a chain.
func leafTxHash(proofHash string, timestamp int64) string {
	return crypto.HashHex(LeafData(proofHash, timestamp))
}

// checkExisting applies the idempotence rule to a stored record.
func checkExisting(rec *Record, timestamp int64) (*Record, error) {
	if rec.Timestamp != timestamp {
		return rec, ErrConflict
	}
	return rec, nil
}
