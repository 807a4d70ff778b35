package attestation

import (
	"bytes"
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/verichat/pkg/resiliency"
)

// OverallResultClaim is the boolean claim carrying the GPU attestation verdict.
const OverallResultClaim = "x-nvidia-overall-att-result"

var gpuSigningMethods = []string{"ES256", "ES384", "RS256", "EdDSA"}

// GPUVerifier submits GPU evidence to a remote attestation service and checks
// the returned token.
type GPUVerifier struct {
	ServiceURL string
	Client     resiliency.Doer

	// Key verifies the attestation token signature.
	Key crypto.PublicKey

	// Policy is an optional CEL expression over the token claims.
	Policy string
	Engine *PolicyEngine
}

// NewGPUVerifier creates a verifier with a retrying client.
func NewGPUVerifier(serviceURL string, key crypto.PublicKey, policy string, engine *PolicyEngine) *GPUVerifier {
	return &GPUVerifier{
		ServiceURL: serviceURL,
		Client:     resiliency.NewEnhancedClient("gpu-verifier"),
		Key:        key,
		Policy:     policy,
		Engine:     engine,
	}
}

type gpuToken struct {
	Token string `json:"token"`
}

// Verify checks the report's GPU evidence. The returned claims are those of a
// token whose signature verified, even when the verdict is negative.
func (g *GPUVerifier) Verify(ctx context.Context, report *Report) (jwt.MapClaims, error) {
	if len(report.NvidiaPayload) == 0 {
		return nil, fmt.Errorf("%w: report has no GPU evidence", ErrAttestationInvalid)
	}
	payload := []byte(report.NvidiaPayload)
	var s string
	if json.Unmarshal(payload, &s) == nil {
		payload = []byte(s)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.ServiceURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestationUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var raw json.RawMessage
	if err := doJSON(g.Client, req, &raw); err != nil {
		return nil, err
	}
	token, err := extractToken(raw)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		if g.Key == nil {
			return nil, fmt.Errorf("no attestation token key configured")
		}
		return g.Key, nil
	}, jwt.WithValidMethods(gpuSigningMethods))
	if err != nil {
		return nil, fmt.Errorf("%w: attestation token: %v", ErrAttestationInvalid, err)
	}

	if verdict, _ := claims[OverallResultClaim].(bool); !verdict {
		return claims, fmt.Errorf("%w: %s is not true", ErrAttestationInvalid, OverallResultClaim)
	}
	if g.Policy != "" {
		if g.Engine == nil {
			return claims, fmt.Errorf("%w: policy configured without engine", ErrAttestationInvalid)
		}
		ok, err := g.Engine.Evaluate(g.Policy, map[string]any{"claims": map[string]any(claims)})
		if err != nil {
			return claims, fmt.Errorf("%w: gpu policy: %v", ErrAttestationInvalid, err)
		}
		if !ok {
			return claims, fmt.Errorf("%w: gpu policy denied token", ErrAttestationInvalid)
		}
	}
	return claims, nil
}

// extractToken accepts either {"token": ...} or [{"token": ...}, ...].
func extractToken(raw json.RawMessage) (string, error) {
	var one gpuToken
	if err := json.Unmarshal(raw, &one); err == nil && one.Token != "" {
		return one.Token, nil
	}
	var many []gpuToken
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, t := range many {
			if t.Token != "" {
				return t.Token, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no attestation token in response", ErrAttestationInvalid)
}

// ParseTokenKey parses a PEM public key for GPU attestation tokens. EC, RSA
// and Ed25519 keys are accepted.
func ParseTokenKey(pemData []byte) (crypto.PublicKey, error) {
	if k, err := jwt.ParseECPublicKeyFromPEM(pemData); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseRSAPublicKeyFromPEM(pemData); err == nil {
		return k, nil
	}
	if k, err := jwt.ParseEdPublicKeyFromPEM(pemData); err == nil {
		return k, nil
	}
	return nil, fmt.Errorf("unsupported attestation token key")
}
