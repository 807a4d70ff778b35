// Package verifier checks a Receipt against independently fetched evidence.
//
// Verification needs only the receipt. Every check runs concurrently and
// reports its own verdict, so a caller can render partial trust such as a
// valid signature with an unreachable gateway attestation service.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/verichat/pkg/attestation"
	"github.com/Mindburn-Labs/verichat/pkg/crypto"
	"github.com/Mindburn-Labs/verichat/pkg/ledger"
	"github.com/Mindburn-Labs/verichat/pkg/observability"
	"github.com/Mindburn-Labs/verichat/pkg/receipt"
)

// Check names, in report order.
const (
	CheckChat           = "chat"
	CheckNotorized      = "notorized"
	CheckModelGPU       = "model_gpu"
	CheckModelTDX       = "model_tdx"
	CheckModelCompose   = "model_compose"
	CheckGatewayTDX     = "gateway_tdx"
	CheckGatewayCompose = "gateway_compose"
)

// CheckOrder lists every check in report order.
var CheckOrder = []string{
	CheckChat, CheckNotorized,
	CheckModelGPU, CheckModelTDX, CheckModelCompose,
	CheckGatewayTDX, CheckGatewayCompose,
}

// Checks that gate the aggregate verdict. Compose checks are advisory.
var blocking = map[string]bool{
	CheckChat:       true,
	CheckNotorized:  true,
	CheckModelGPU:   true,
	CheckModelTDX:   true,
	CheckGatewayTDX: true,
}

const (
	DefaultConcurrency  = 4
	DefaultCheckTimeout = 15 * time.Second

	msgNotConfigured = "not configured"
)

var errNotConfigured = errors.New(msgNotConfigured)

// CheckResult is the verdict of one check.
type CheckResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// Result is the aggregate verdict plus every individual check.
type Result struct {
	Valid          bool        `json:"valid"`
	Chat           CheckResult `json:"chat"`
	Notorized      CheckResult `json:"notorized"`
	ModelGPU       CheckResult `json:"model_gpu"`
	ModelTDX       CheckResult `json:"model_tdx"`
	ModelCompose   CheckResult `json:"model_compose"`
	GatewayTDX     CheckResult `json:"gateway_tdx"`
	GatewayCompose CheckResult `json:"gateway_compose"`
	VerifiedAt     time.Time   `json:"verified_at"`
}

// Check returns the result for a named check.
func (r *Result) Check(name string) (CheckResult, bool) {
	p := r.slot(name)
	if p == nil {
		return CheckResult{}, false
	}
	return *p, true
}

func (r *Result) slot(name string) *CheckResult {
	switch name {
	case CheckChat:
		return &r.Chat
	case CheckNotorized:
		return &r.Notorized
	case CheckModelGPU:
		return &r.ModelGPU
	case CheckModelTDX:
		return &r.ModelTDX
	case CheckModelCompose:
		return &r.ModelCompose
	case CheckGatewayTDX:
		return &r.GatewayTDX
	case CheckGatewayCompose:
		return &r.GatewayCompose
	}
	return nil
}

// Summary renders the verdict as "PASS: n/m checks passed" or
// "FAIL: k/m checks failed".
func (r *Result) Summary() string {
	failed := 0
	for _, name := range CheckOrder {
		if c, _ := r.Check(name); !c.Valid {
			failed++
		}
	}
	total := len(CheckOrder)
	if !r.Valid {
		return fmt.Sprintf("FAIL: %d/%d checks failed", failed, total)
	}
	return fmt.Sprintf("PASS: %d/%d checks passed", total-failed, total)
}

// Target is one attested deployment, the model host or the gateway.
// A nil GPU verifier skips GPU evidence.
type Target struct {
	Reports attestation.ReportSource
	GPU     *attestation.GPUVerifier
	TDX     *attestation.TDXVerifier
}

// Verifier runs the receipt checks.
type Verifier struct {
	ledger      ledger.Ledger
	model       *Target
	gateway     *Target
	concurrency int
	timeout     time.Duration
	obs         *observability.Provider
	logger      *slog.Logger
}

type Option func(*Verifier)

func WithLedger(l ledger.Ledger) Option { return func(v *Verifier) { v.ledger = l } }

func WithModel(t *Target) Option { return func(v *Verifier) { v.model = t } }

func WithGateway(t *Target) Option { return func(v *Verifier) { v.gateway = t } }

// WithConcurrency bounds how many checks run at once.
func WithConcurrency(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// WithCheckTimeout bounds each check independently.
func WithCheckTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func WithObservability(p *observability.Provider) Option {
	return func(v *Verifier) { v.obs = p }
}

func New(opts ...Option) *Verifier {
	v := &Verifier{
		concurrency: DefaultConcurrency,
		timeout:     DefaultCheckTimeout,
		logger:      slog.Default().With("component", "verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type checkFunc func(ctx context.Context) CheckResult

// Verify runs every check concurrently and aggregates the verdicts. It only
// returns an error for a receipt that is structurally unusable.
func (v *Verifier) Verify(ctx context.Context, r *receipt.Receipt) (*Result, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil receipt", receipt.ErrInvalidReceipt)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	ctx, done := v.obs.TrackOperation(ctx, "verifier.verify", attribute.String("proof_hash", r.ProofHash))

	modelReport := v.reportFetcher(ctx, v.model, r.SigningAddress)
	gatewayReport := v.reportFetcher(ctx, v.gateway, "")

	checks := map[string]checkFunc{
		CheckChat:      func(context.Context) CheckResult { return checkChat(r) },
		CheckNotorized: func(ctx context.Context) CheckResult { return v.checkNotorized(ctx, r) },
		CheckModelGPU: func(ctx context.Context) CheckResult {
			return v.checkGPU(ctx, v.model, modelReport)
		},
		CheckModelTDX: func(ctx context.Context) CheckResult {
			return v.checkTDX(ctx, v.model, modelReport, r.SigningAddress)
		},
		CheckModelCompose: func(context.Context) CheckResult { return checkCompose(v.model, modelReport) },
		CheckGatewayTDX: func(ctx context.Context) CheckResult {
			return v.checkTDX(ctx, v.gateway, gatewayReport, "")
		},
		CheckGatewayCompose: func(context.Context) CheckResult { return checkCompose(v.gateway, gatewayReport) },
	}

	results := make([]CheckResult, len(CheckOrder))
	var g errgroup.Group
	g.SetLimit(v.concurrency)
	for i, name := range CheckOrder {
		fn := checks[name]
		g.Go(func() error {
			results[i] = v.run(ctx, name, fn)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Valid: true, VerifiedAt: time.Now().UTC()}
	for i, name := range CheckOrder {
		*res.slot(name) = results[i]
		if blocking[name] && !results[i].Valid {
			res.Valid = false
		}
	}

	v.logger.InfoContext(ctx, "receipt verified",
		"proof_hash", r.ProofHash,
		"valid", res.Valid,
		"summary", res.Summary(),
	)
	var err error
	if !res.Valid {
		err = errors.New(res.Summary())
	}
	done(err)
	return res, nil
}

// run executes one check under its own timeout and converts a panic into a
// failed verdict.
func (v *Verifier) run(ctx context.Context, name string, fn checkFunc) (res CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ctx, done := v.obs.TrackOperation(ctx, "verifier.check", attribute.String("check", name))
	defer func() {
		if p := recover(); p != nil {
			v.logger.ErrorContext(ctx, "check panicked", "check", name, "panic", p)
			res = CheckResult{Message: fmt.Sprintf("internal error: %v", p)}
		}
		v.obs.RecordCheck(ctx, name, res.Valid)
		if !res.Valid {
			done(errors.New(res.Message))
			return
		}
		done(nil)
	}()
	return fn(ctx)
}

func checkChat(r *receipt.Receipt) CheckResult {
	if got := r.ComputedProofHash(); got != r.ProofHash {
		return CheckResult{Message: "proof hash does not match receipt fields"}
	}
	algo := r.SigningAlgo
	if algo == "" {
		algo = crypto.AlgoEd25519
	}
	ok, err := crypto.VerifyWithAlgorithm(algo, r.SigningAddress, r.Signature,
		receipt.SigningMessage(r.RequestHash, r.ResponseHash))
	if err != nil {
		return CheckResult{Message: fmt.Sprintf("signature: %v", err)}
	}
	if !ok {
		return CheckResult{Message: "signature does not verify against signing address"}
	}
	return CheckResult{Valid: true}
}

func (v *Verifier) checkNotorized(ctx context.Context, r *receipt.Receipt) CheckResult {
	if v.ledger == nil {
		return CheckResult{Message: msgNotConfigured}
	}
	rec, err := v.ledger.Lookup(ctx, r.ProofHash)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return CheckResult{Message: "proof hash not found on ledger"}
	case err != nil:
		return CheckResult{Message: fmt.Sprintf("ledger lookup: %v", err)}
	case rec.Timestamp != r.Timestamp:
		return CheckResult{Message: fmt.Sprintf("ledger timestamp %d does not match receipt timestamp %d", rec.Timestamp, r.Timestamp)}
	}
	return CheckResult{Valid: true}
}

type reportFunc func() (*attestation.Report, error)

// reportFetcher fetches a target's report at most once per verification.
func (v *Verifier) reportFetcher(ctx context.Context, t *Target, signingAddress string) reportFunc {
	return sync.OnceValues(func() (*attestation.Report, error) {
		if t == nil || t.Reports == nil {
			return nil, errNotConfigured
		}
		ctx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()
		return t.Reports.FetchReport(ctx, signingAddress)
	})
}

func (v *Verifier) checkGPU(ctx context.Context, t *Target, report reportFunc) CheckResult {
	if t == nil || t.GPU == nil {
		return CheckResult{Message: msgNotConfigured}
	}
	rep, err := report()
	if err != nil {
		return failed("attestation report", err)
	}
	if _, err := t.GPU.Verify(ctx, rep); err != nil {
		return failed("gpu attestation", err)
	}
	return CheckResult{Valid: true}
}

// checkTDX binds the quote to expected, or to the report's own signing
// address when expected is empty.
func (v *Verifier) checkTDX(ctx context.Context, t *Target, report reportFunc, expected string) CheckResult {
	if t == nil || t.TDX == nil {
		return CheckResult{Message: msgNotConfigured}
	}
	rep, err := report()
	if err != nil {
		return failed("attestation report", err)
	}
	if expected == "" {
		expected = rep.SigningAddress
	}
	if _, err := t.TDX.Verify(ctx, rep, expected); err != nil {
		return failed("tdx attestation", err)
	}
	return CheckResult{Valid: true}
}

func checkCompose(t *Target, report reportFunc) CheckResult {
	if t == nil || t.Reports == nil {
		return CheckResult{Message: msgNotConfigured}
	}
	rep, err := report()
	if err != nil {
		return failed("attestation report", err)
	}
	if err := attestation.VerifyCompose(rep); err != nil {
		return failed("compose", err)
	}
	return CheckResult{Valid: true}
}

func failed(what string, err error) CheckResult {
	if errors.Is(err, errNotConfigured) {
		return CheckResult{Message: msgNotConfigured}
	}
	return CheckResult{Message: fmt.Sprintf("%s: %v", what, err)}
}
