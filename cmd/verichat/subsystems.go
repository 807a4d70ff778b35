package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Mindburn-Labs/verichat/pkg/attestation"
	"github.com/Mindburn-Labs/verichat/pkg/config"
	"github.com/Mindburn-Labs/verichat/pkg/crypto"
	"github.com/Mindburn-Labs/verichat/pkg/ledger"
	"github.com/Mindburn-Labs/verichat/pkg/observability"
	"github.com/Mindburn-Labs/verichat/pkg/verifier"
)

// loadConfig reads path when set, otherwise the environment alone.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Load()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the default JSON logger on w.
func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func setupObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.Enabled = cfg.OTelEnabled
	oc.OTLPEndpoint = cfg.OTelEndpoint
	oc.Insecure = true
	return observability.New(ctx, oc)
}

// setupSigner returns nil when neither a seed nor a remote signer is set.
func setupSigner(cfg *config.Config) (crypto.HashSigner, string, error) {
	switch {
	case cfg.SignerSeed != "":
		seed, err := hex.DecodeString(cfg.SignerSeed)
		if err != nil {
			return nil, "", fmt.Errorf("SIGNER_SEED: %w", err)
		}
		s, err := crypto.NewEd25519SignerFromSeed(seed, "verichat")
		if err != nil {
			return nil, "", err
		}
		return &crypto.LocalSigner{Signer: s}, s.PublicKey(), nil
	case cfg.SignerURL != "":
		return crypto.NewHTTPSigner(cfg.SignerURL), "", nil
	}
	return nil, "", nil
}

func closeLedger(l ledger.Ledger) {
	if c, ok := l.(io.Closer); ok {
		_ = c.Close()
	}
}

// setupVerifier wires the attestation targets that have a report URL.
func setupVerifier(cfg *config.Config, l ledger.Ledger, obs *observability.Provider) (*verifier.Verifier, error) {
	opts := []verifier.Option{
		verifier.WithLedger(l),
		verifier.WithConcurrency(cfg.VerifyConcurrency),
		verifier.WithObservability(obs),
	}

	ac := cfg.Attestation
	var engine *attestation.PolicyEngine
	if ac.Model.GPUPolicy != "" || ac.Model.TDXPolicy != "" || ac.Gateway.TDXPolicy != "" {
		var err error
		if engine, err = attestation.NewPolicyEngine(); err != nil {
			return nil, err
		}
		for _, expr := range []string{ac.Model.GPUPolicy, ac.Model.TDXPolicy, ac.Gateway.TDXPolicy} {
			if expr == "" {
				continue
			}
			if err := engine.Compile(expr); err != nil {
				return nil, fmt.Errorf("attestation policy: %w", err)
			}
		}
	}

	if ac.Model.URL != "" {
		t := &verifier.Target{Reports: attestation.NewHTTPReportSource(ac.Model.URL)}
		if ac.NRASURL != "" && ac.GPUTokenKey != "" {
			key, err := attestation.ParseTokenKey([]byte(ac.GPUTokenKey))
			if err != nil {
				return nil, fmt.Errorf("GPU_TOKEN_KEY: %w", err)
			}
			t.GPU = attestation.NewGPUVerifier(ac.NRASURL, key, ac.Model.GPUPolicy, engine)
		}
		if ac.TDXVerifierURL != "" {
			t.TDX = attestation.NewTDXVerifier(ac.TDXVerifierURL, ac.Model.TDXPolicy, engine)
		}
		opts = append(opts, verifier.WithModel(t))
	}
	if ac.Gateway.URL != "" {
		t := &verifier.Target{Reports: attestation.NewHTTPReportSource(ac.Gateway.URL)}
		if ac.TDXVerifierURL != "" {
			t.TDX = attestation.NewTDXVerifier(ac.TDXVerifierURL, ac.Gateway.TDXPolicy, engine)
		}
		opts = append(opts, verifier.WithGateway(t))
	}
	return verifier.New(opts...), nil
}
