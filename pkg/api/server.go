package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/verichat/pkg/artifacts"
	"github.com/Mindburn-Labs/verichat/pkg/crypto"
	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
	"github.com/Mindburn-Labs/verichat/pkg/ledger"
	"github.com/Mindburn-Labs/verichat/pkg/receipt"
	"github.com/Mindburn-Labs/verichat/pkg/reference"
	"github.com/Mindburn-Labs/verichat/pkg/share"
	"github.com/Mindburn-Labs/verichat/pkg/verifier"
)

// HeaderSharePassphrase carries the passphrase for resolving a reference
// against its bundle. Passphrases never travel in URLs.
const HeaderSharePassphrase = "X-Share-Passphrase"

const maxJSONBody = 1 << 20 // 1MB

// Server exposes the signer, notary, blob store, verifier and reference
// codec over HTTP. Each collaborator is optional; routes for a missing one
// answer 503.
type Server struct {
	signer   crypto.HashSigner
	ledger   ledger.Ledger
	blobs    artifacts.Store
	verifier *verifier.Verifier
	shares   *share.Service
	logger   *slog.Logger
}

type Option func(*Server)

func WithSigner(s crypto.HashSigner) Option { return func(srv *Server) { srv.signer = s } }

func WithLedger(l ledger.Ledger) Option { return func(srv *Server) { srv.ledger = l } }

func WithBlobStore(b artifacts.Store) Option { return func(srv *Server) { srv.blobs = b } }

func WithVerifier(v *verifier.Verifier) Option { return func(srv *Server) { srv.verifier = v } }

// WithShares enables resolving references against stored bundles.
func WithShares(s *share.Service) Option { return func(srv *Server) { srv.shares = s } }

func NewServer(opts ...Option) *Server {
	s := &Server{logger: slog.Default().With("component", "api")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API without middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sign", s.handleSign)
	mux.HandleFunc("POST /v1/notarize", s.handleNotarize)
	mux.HandleFunc("GET /v1/records/{proof_hash}", s.handleRecord)
	mux.HandleFunc("POST /v1/blobs", s.handleStoreBlob)
	mux.HandleFunc("GET /v1/blobs/{id}", s.handleGetBlob)
	mux.HandleFunc("HEAD /v1/blobs/{id}", s.handleHeadBlob)
	mux.HandleFunc("POST /v1/verify", s.handleVerify)
	mux.HandleFunc("GET /v1/references/{ref}", s.handleReference)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return false
	}
	return true
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	WriteError(w, r, http.StatusServiceUnavailable, what+" not configured")
}

func isHexDigest(s string) bool {
	return artifacts.ValidateID(s) == nil
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		unavailable(w, r, "signer")
		return
	}
	var req crypto.SignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !isHexDigest(req.RequestHash) || !isHexDigest(req.ResponseHash) {
		WriteBadRequest(w, r, "request_hash and response_hash must be sha256 hex digests")
		return
	}

	sig, err := s.signer.SignHashes(r.Context(), req.RequestHash, req.ResponseHash)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "signed exchange", "request_hash", req.RequestHash, "response_hash", req.ResponseHash)
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleNotarize(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		unavailable(w, r, "ledger")
		return
	}
	var req ledger.NotarizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !isHexDigest(req.ProofHash) || req.Timestamp <= 0 {
		WriteBadRequest(w, r, "proof_hash must be a sha256 hex digest and timestamp positive")
		return
	}

	rec, err := s.ledger.Notarize(r.Context(), req.ProofHash, req.Timestamp)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		unavailable(w, r, "ledger")
		return
	}
	proofHash := r.PathValue("proof_hash")
	if !isHexDigest(proofHash) {
		WriteBadRequest(w, r, "proof_hash must be a sha256 hex digest")
		return
	}
	rec, err := s.ledger.Lookup(r.Context(), proofHash)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStoreBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		unavailable(w, r, "blob store")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, artifacts.MaxBlobSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDomainError(w, r, artifacts.ErrTooLarge)
			return
		}
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	id, err := s.blobs.Store(r.Context(), data)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifacts.StoreResponse{ID: id})
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		unavailable(w, r, "blob store")
		return
	}
	data, err := s.blobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleHeadBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	if err := artifacts.ValidateID(id); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok, err := s.blobs.Exists(r.Context(), id)
	switch {
	case err != nil:
		w.WriteHeader(statusFor(err))
	case !ok:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// VerifyResponse is the body returned by POST /v1/verify.
type VerifyResponse struct {
	*verifier.Result
	Summary string `json:"summary"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		unavailable(w, r, "verifier")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	rc, err := receipt.Parse(body)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	start := time.Now()
	res, err := s.verifier.Verify(r.Context(), rc)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "verified receipt",
		"proof_hash", rc.ProofHash,
		"valid", res.Valid,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, VerifyResponse{Result: res, Summary: res.Summary()})
}

// ReferenceResponse is the body returned by GET /v1/references/{ref}.
// Resolved is present when a passphrase was supplied.
type ReferenceResponse struct {
	Reference reference.Reference  `json:"reference"`
	Resolved  *reference.TextRange `json:"resolved,omitempty"`
	Preview   string               `json:"preview,omitempty"`
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	ref, err := reference.Decode(r.PathValue("ref"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := ReferenceResponse{Reference: ref}

	if words := r.Header.Get(HeaderSharePassphrase); words != "" {
		if s.shares == nil {
			unavailable(w, r, "share service")
			return
		}
		bundle, err := s.shares.Open(r.Context(), ref.ShareID, keymaterial.ParsePassphrase(words))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		tr, err := reference.ResolveReference(ref, ref.ShareID, bundle)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		resp.Resolved = tr
		resp.Preview = reference.Preview(tr.Text)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
