// Package receipt turns a captured exchange into a signed, notarized Receipt.
package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Mindburn-Labs/verichat/pkg/crypto"
)

// Version is the receipt format version.
const Version = "1"

var (
	// ErrSigningUnavailable is returned when no usable signature could be obtained.
	ErrSigningUnavailable = errors.New("receipt: signing unavailable")
	// ErrNotarizationFailed is returned when the ledger did not confirm the proof hash.
	ErrNotarizationFailed = errors.New("receipt: notarization failed")
	// ErrInvalidReceipt is returned when a receipt document is missing fields.
	ErrInvalidReceipt = errors.New("receipt: invalid receipt")
)

// Receipt proves that one exchange happened. It is immutable once produced.
type Receipt struct {
	Version        string `json:"version"`
	RequestHash    string `json:"request_hash"`
	ResponseHash   string `json:"response_hash"`
	HashAlgorithm  string `json:"hash_algorithm"`
	Signature      string `json:"signature"`
	SigningAddress string `json:"signing_address"`
	SigningAlgo    string `json:"signing_algo"`
	ProofHash      string `json:"proof_hash"`
	Timestamp      int64  `json:"timestamp"`
	TxHash         string `json:"tx_hash"`
	Ledger         string `json:"ledger,omitempty"`
	ExchangeID     string `json:"exchange_id,omitempty"`

	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Output string `json:"output,omitempty"`
}

// HashBody returns the content hash of one captured body.
func HashBody(body []byte) string {
	return crypto.HashHex(body)
}

// SigningMessage is the message the signer signs.
func SigningMessage(requestHash, responseHash string) []byte {
	return crypto.SigningMessage(requestHash, responseHash)
}

// ProofHash binds the hashes, signature and timestamp into one value.
// It is a pure function of its inputs.
func ProofHash(requestHash, responseHash, signature string, timestamp int64) string {
	return crypto.HashHex([]byte(requestHash + responseHash + signature + strconv.FormatInt(timestamp, 10)))
}

// ComputedProofHash recomputes the proof hash from the receipt's own fields.
func (r *Receipt) ComputedProofHash() string {
	return ProofHash(r.RequestHash, r.ResponseHash, r.Signature, r.Timestamp)
}

// Validate checks that every field needed for verification is present.
func (r *Receipt) Validate() error {
	missing := func(name string) error {
		return fmt.Errorf("%w: missing %s", ErrInvalidReceipt, name)
	}
	switch {
	case r.RequestHash == "":
		return missing("request_hash")
	case r.ResponseHash == "":
		return missing("response_hash")
	case r.Signature == "":
		return missing("signature")
	case r.SigningAddress == "":
		return missing("signing_address")
	case r.ProofHash == "":
		return missing("proof_hash")
	case r.Timestamp <= 0:
		return missing("timestamp")
	}
	return nil
}

// Parse decodes and validates a receipt document.
func Parse(data []byte) (*Receipt, error) {
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
