// Package attestation fetches and checks remote hardware attestation evidence
// for the model host and the gateway: GPU attestation tokens, TDX quotes and
// deployment compose manifests.
package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Mindburn-Labs/verichat/pkg/resiliency"
)

var (
	// ErrAttestationUnreachable is returned when an attestation service or
	// report endpoint cannot be reached.
	ErrAttestationUnreachable = errors.New("attestation: service unreachable")
	// ErrAttestationInvalid is returned when evidence was obtained but does
	// not satisfy the checks.
	ErrAttestationInvalid = errors.New("attestation: evidence rejected")
)

// Event is one entry of the TEE runtime event log.
type Event struct {
	IMR          int    `json:"imr"`
	Event        string `json:"event"`
	Digest       string `json:"digest,omitempty"`
	EventPayload string `json:"event_payload"`
}

// Report is the attestation bundle served by a model host or gateway.
type Report struct {
	SigningAddress string          `json:"signing_address"`
	NvidiaPayload  json.RawMessage `json:"nvidia_payload,omitempty"`
	IntelQuote     string          `json:"intel_quote"`
	EventLog       []Event         `json:"event_log,omitempty"`
	AppCompose     string          `json:"app_compose,omitempty"`
}

// ReportSource fetches the attestation report bound to a signing address.
type ReportSource interface {
	FetchReport(ctx context.Context, signingAddress string) (*Report, error)
}

// HTTPReportSource calls GET {BaseURL}/v1/attestation/report?signing_address=.
type HTTPReportSource struct {
	BaseURL string
	Client  resiliency.Doer
}

func NewHTTPReportSource(baseURL string) *HTTPReportSource {
	return &HTTPReportSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  resiliency.NewEnhancedClient("attestation-report"),
	}
}

func (s *HTTPReportSource) FetchReport(ctx context.Context, signingAddress string) (*Report, error) {
	u := s.BaseURL + "/v1/attestation/report?signing_address=" + url.QueryEscape(signingAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestationUnreachable, err)
	}
	var report Report
	if err := doJSON(s.Client, req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// doJSON executes req and decodes a 200 JSON response into out.
func doJSON(c resiliency.Doer, req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttestationUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrAttestationUnreachable, req.URL.Host, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrAttestationUnreachable, req.URL.Host, err)
	}
	return nil
}

// normalizeHex lower-cases and strips an optional 0x prefix.
func normalizeHex(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
}
