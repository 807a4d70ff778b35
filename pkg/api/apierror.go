// Package api serves the signer, notary, blob, verify and reference endpoints
// and renders errors as RFC 7807 problem documents.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/verichat/pkg/artifacts"
	"github.com/Mindburn-Labs/verichat/pkg/crypto"
	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
	"github.com/Mindburn-Labs/verichat/pkg/ledger"
	"github.com/Mindburn-Labs/verichat/pkg/receipt"
	"github.com/Mindburn-Labs/verichat/pkg/reference"
	"github.com/Mindburn-Labs/verichat/pkg/share"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID echoes the request id.
	TraceID string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	problem := &ProblemDetail{
		Type:    fmt.Sprintf("https://verichat.dev/errors/%d", status),
		Title:   http.StatusText(status),
		Status:  status,
		Detail:  detail,
		TraceID: w.Header().Get(HeaderRequestID),
	}
	if r != nil {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, detail)
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusNotFound, detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "request_id", w.Header().Get(HeaderRequestID))
	WriteError(w, r, http.StatusInternalServerError, "An unexpected error occurred. Please try again later.")
}

// statusFor maps domain errors onto HTTP statuses. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, artifacts.ErrNotFound),
		errors.Is(err, share.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, reference.ErrMalformedReference),
		errors.Is(err, reference.ErrShareMismatch),
		errors.Is(err, receipt.ErrInvalidReceipt),
		errors.Is(err, artifacts.ErrInvalidID),
		errors.Is(err, keymaterial.ErrInvalidPassphrase):
		return http.StatusBadRequest
	case errors.Is(err, artifacts.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, share.ErrDecryptionFailed),
		errors.Is(err, share.ErrInvalidBundle),
		errors.Is(err, reference.ErrOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, crypto.ErrSignerUnavailable),
		errors.Is(err, ledger.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeDomainError writes err with its mapped status; internals stay hidden.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		WriteInternal(w, r, err)
		return
	}
	WriteError(w, r, status, err.Error())
}
