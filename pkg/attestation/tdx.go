package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/verichat/pkg/resiliency"
)

// QuoteBody holds the TD report fields used by policies.
type QuoteBody struct {
	MRTD       string `json:"mrtd"`
	RTMR0      string `json:"rtmr0"`
	RTMR1      string `json:"rtmr1"`
	RTMR2      string `json:"rtmr2"`
	RTMR3      string `json:"rtmr3"`
	ReportData string `json:"reportdata"`
}

// QuoteResult is the quote verification service response.
type QuoteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Quote   struct {
		Body QuoteBody `json:"body"`
	} `json:"quote"`
}

// TDXVerifier submits a TDX quote to a verification service and checks the
// report data binding and measurement policy.
type TDXVerifier struct {
	ServiceURL string
	Client     resiliency.Doer
	Policy     string
	Engine     *PolicyEngine
}

// Verify checks that the quote verifies and that its report data starts with
// the expected signing address.
func (v *TDXVerifier) Verify(ctx context.Context, report *Report, signingAddress string) (*QuoteBody, error) {
	if report.IntelQuote == "" {
		return nil, fmt.Errorf("%w: report has no TDX quote", ErrAttestationInvalid)
	}
	body, err := json.Marshal(map[string]string{"hex": report.IntelQuote})
	if err != nil {
		return nil, fmt.Errorf("encode quote: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.ServiceURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestationUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res QuoteResult
	if err := doJSON(v.Client, req, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "quote verification failed"
		}
		return nil, fmt.Errorf("%w: %s", ErrAttestationInvalid, msg)
	}

	qb := res.Quote.Body
	addr := normalizeHex(signingAddress)
	if addr == "" || !strings.HasPrefix(normalizeHex(qb.ReportData), addr) {
		return &qb, fmt.Errorf("%w: report data is not bound to signing address", ErrAttestationInvalid)
	}

	if v.Policy != "" {
		if v.Engine == nil {
			return &qb, fmt.Errorf("%w: policy configured without engine", ErrAttestationInvalid)
		}
		ok, err := v.Engine.Evaluate(v.Policy, map[string]any{"quote": map[string]any{
			"mrtd":       normalizeHex(qb.MRTD),
			"rtmr0":      normalizeHex(qb.RTMR0),
			"rtmr1":      normalizeHex(qb.RTMR1),
			"rtmr2":      normalizeHex(qb.RTMR2),
			"rtmr3":      normalizeHex(qb.RTMR3),
			"reportdata": normalizeHex(qb.ReportData),
		}})
		if err != nil {
			return &qb, fmt.Errorf("%w: tdx policy: %v", ErrAttestationInvalid, err)
		}
		if !ok {
			return &qb, fmt.Errorf("%w: tdx policy denied measurements", ErrAttestationInvalid)
		}
	}
	return &qb, nil
}

// NewTDXVerifier creates a verifier with a retrying client.
func NewTDXVerifier(serviceURL, policy string, engine *PolicyEngine) *TDXVerifier {
	return &TDXVerifier{
		ServiceURL: serviceURL,
		Client:     resiliency.NewEnhancedClient("tdx-verifier"),
		Policy:     policy,
		Engine:     engine,
	}
}
