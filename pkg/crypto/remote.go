package crypto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/verichat/pkg/resiliency"
)

// ErrSignerUnavailable is returned when a remote signer cannot be reached or
// answers with an unusable response.
var ErrSignerUnavailable = errors.New("crypto: signer unavailable")

// SignRequest is the payload a signer receives.
type SignRequest struct {
	RequestHash  string `json:"request_hash"`
	ResponseHash string `json:"response_hash"`
}

// Signature is what a signer returns for one exchange.
type Signature struct {
	Signature      string `json:"signature"`
	SigningAddress string `json:"signing_address"`
	SigningAlgo    string `json:"signing_algo"`
}

// HashSigner signs the content hashes of an exchange.
type HashSigner interface {
	SignHashes(ctx context.Context, requestHash, responseHash string) (*Signature, error)
}

// LocalSigner signs with an in-process key.
type LocalSigner struct {
	Signer Signer
}

func (l *LocalSigner) SignHashes(ctx context.Context, requestHash, responseHash string) (*Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := l.Signer.Sign(SigningMessage(requestHash, responseHash))
	if err != nil {
		return nil, fmt.Errorf("sign hashes: %w", err)
	}
	return &Signature{
		Signature:      sig,
		SigningAddress: l.Signer.PublicKey(),
		SigningAlgo:    l.Signer.Algorithm(),
	}, nil
}

// HTTPSigner calls POST {BaseURL}/v1/sign.
type HTTPSigner struct {
	BaseURL string
	Client  resiliency.Doer
}

// NewHTTPSigner creates an HTTP signer with a retrying client.
func NewHTTPSigner(baseURL string) *HTTPSigner {
	return &HTTPSigner{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  resiliency.NewEnhancedClient("signer"),
	}
}

func (h *HTTPSigner) SignHashes(ctx context.Context, requestHash, responseHash string) (*Signature, error) {
	body, err := json.Marshal(SignRequest{RequestHash: requestHash, ResponseHash: responseHash})
	if err != nil {
		return nil, fmt.Errorf("encode sign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSignerUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var sig Signature
	if err := json.NewDecoder(resp.Body).Decode(&sig); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSignerUnavailable, err)
	}
	if sig.Signature == "" || sig.SigningAddress == "" {
		return nil, fmt.Errorf("%w: incomplete signature response", ErrSignerUnavailable)
	}
	if sig.SigningAlgo == "" {
		sig.SigningAlgo = AlgoEd25519
	}
	return &sig, nil
}
