package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Mindburn-Labs/verichat/pkg/resiliency"
)

// NotarizeRequest is the body of POST /v1/notarize.
type NotarizeRequest struct {
	ProofHash string `json:"proof_hash"`
	Timestamp int64  `json:"timestamp"`
}

// HTTPLedger talks to a remote notary service. Records that carry an
// inclusion proof are verified before they are returned.
type HTTPLedger struct {
	BaseURL string
	Client  resiliency.Doer
	// RequireProof rejects records without an inclusion proof.
	RequireProof bool
}

func NewHTTPLedger(baseURL string) *HTTPLedger {
	return &HTTPLedger{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  resiliency.NewEnhancedClient("ledger"),
	}
}

func (h *HTTPLedger) ID() string { return "http:" + h.BaseURL }

func (h *HTTPLedger) Notarize(ctx context.Context, proofHash string, timestamp int64) (*Record, error) {
	body, err := json.Marshal(NotarizeRequest{ProofHash: proofHash, Timestamp: timestamp})
	if err != nil {
		return nil, fmt.Errorf("encode notarize request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/v1/notarize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req, proofHash, timestamp)
}

func (h *HTTPLedger) Lookup(ctx context.Context, proofHash string) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/v1/records/"+url.PathEscape(proofHash), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return h.do(req, proofHash, -1)
}

// do executes req and decodes a record. A non-negative timestamp is checked
// against the returned record.
func (h *HTTPLedger) do(req *http.Request, proofHash string, timestamp int64) (*Record, error) {
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusConflict:
		return nil, ErrConflict
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decode record: %v", ErrUnavailable, err)
	}
	if rec.ProofHash != proofHash {
		return nil, fmt.Errorf("%w: record for %q returned for %q", ErrInvalidProof, rec.ProofHash, proofHash)
	}
	if rec.InclusionProof != nil {
		if err := VerifyInclusion(LeafData(rec.ProofHash, rec.Timestamp), rec.InclusionProof); err != nil {
			return nil, err
		}
	} else if h.RequireProof {
		return nil, fmt.Errorf("%w: record has no inclusion proof", ErrInvalidProof)
	}
	if timestamp >= 0 {
		return checkExisting(&rec, timestamp)
	}
	return &rec, nil
}
