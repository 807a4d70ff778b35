package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/verichat/pkg/crypto"
	"github.com/Mindburn-Labs/verichat/pkg/e2ee"
	"github.com/Mindburn-Labs/verichat/pkg/ledger"
	"github.com/Mindburn-Labs/verichat/pkg/observability"
)

// DefaultMaxNotarizeAttempts bounds ledger write retries for one proof hash.
const DefaultMaxNotarizeAttempts = 3

// Output is the free-form, human-readable side of an exchange.
type Output struct {
	Model  string
	Prompt string
	Output string
}

// Attestor produces receipts from wire captures.
type Attestor struct {
	signer crypto.HashSigner
	ledger ledger.Ledger
	obs    *observability.Provider
	logger *slog.Logger

	clock       func() time.Time
	maxAttempts int
	backoff     time.Duration
}

// Option configures an Attestor.
type Option func(*Attestor)

// WithClock replaces the wall clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(a *Attestor) { a.clock = clock }
}

// WithMaxNotarizeAttempts sets how often a ledger write is attempted.
func WithMaxNotarizeAttempts(n int) Option {
	return func(a *Attestor) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the pause between ledger write attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(a *Attestor) { a.backoff = d }
}

// WithObservability records spans and metrics for each attestation.
func WithObservability(p *observability.Provider) Option {
	return func(a *Attestor) { a.obs = p }
}

func NewAttestor(signer crypto.HashSigner, l ledger.Ledger, opts ...Option) *Attestor {
	a := &Attestor{
		signer:      signer,
		ledger:      l,
		logger:      slog.Default().With("component", "receipt"),
		clock:       time.Now,
		maxAttempts: DefaultMaxNotarizeAttempts,
		backoff:     200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attest signs and notarizes a capture at the current time.
func (a *Attestor) Attest(ctx context.Context, capture *e2ee.WireCapture, out Output) (*Receipt, error) {
	return a.AttestAt(ctx, capture, out, a.clock().Unix())
}

// AttestAt signs and notarizes a capture with an explicit Unix timestamp.
// It never returns a partial receipt.
func (a *Attestor) AttestAt(ctx context.Context, capture *e2ee.WireCapture, out Output, timestamp int64) (rcpt *Receipt, err error) {
	ctx, done := a.obs.TrackOperation(ctx, "receipt.attest", attribute.String("ledger", a.ledger.ID()))
	defer func() { done(err) }()

	if capture == nil {
		return nil, fmt.Errorf("receipt: nil wire capture")
	}

	// 1. Content hashes of the untouched wire bytes
	reqHash := HashBody(capture.RequestBody)
	respHash := HashBody(capture.ResponseBody)

	// 2. Remote signature over both hashes
	sig, err := a.signer.SignHashes(ctx, reqHash, respHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	ok, err := crypto.VerifyWithAlgorithm(sig.SigningAlgo, sig.SigningAddress, sig.Signature, SigningMessage(reqHash, respHash))
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: signer returned an invalid signature", ErrSigningUnavailable)
	}

	// 3. Proof hash
	proof := ProofHash(reqHash, respHash, sig.Signature, timestamp)

	// 4. Notarize, retrying with the same proof hash
	rec, err := a.notarize(ctx, proof, timestamp)
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "receipt attested",
		"proof_hash", proof,
		"tx_hash", rec.TxHash,
		"exchange_id", capture.ExchangeID,
	)

	// 5. Assemble
	return &Receipt{
		Version:        Version,
		RequestHash:    reqHash,
		ResponseHash:   respHash,
		HashAlgorithm:  crypto.HashAlgorithm,
		Signature:      sig.Signature,
		SigningAddress: sig.SigningAddress,
		SigningAlgo:    sig.SigningAlgo,
		ProofHash:      proof,
		Timestamp:      timestamp,
		TxHash:         rec.TxHash,
		Ledger:         a.ledger.ID(),
		ExchangeID:     capture.ExchangeID,
		Model:          out.Model,
		Prompt:         out.Prompt,
		Output:         out.Output,
	}, nil
}

func (a *Attestor) notarize(ctx context.Context, proof string, timestamp int64) (*ledger.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		rec, err := a.ledger.Notarize(ctx, proof, timestamp)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ledger.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrNotarizationFailed, err)
		}
		lastErr = err
		a.logger.WarnContext(ctx, "notarization attempt failed",
			"proof_hash", proof, "attempt", attempt, "error", err)

		if attempt == a.maxAttempts {
			break
		}
		t := time.NewTimer(a.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %v", ErrNotarizationFailed, ctx.Err())
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrNotarizationFailed, a.maxAttempts, lastErr)
}
