package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/verichat/pkg/api"
	"github.com/Mindburn-Labs/verichat/pkg/artifacts"
	"github.com/Mindburn-Labs/verichat/pkg/ledger"
	"github.com/Mindburn-Labs/verichat/pkg/share"
)

// runServeCmd implements `verichat serve`. It blocks until SIGINT or SIGTERM.
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "Path to a YAML config file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	setupLogging(cfg.LogLevel, stderr)
	logger := slog.Default().With("component", "serve")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Telemetry
	obs, err := setupObservability(ctx, cfg)
	if err != nil {
		logger.ErrorContext(ctx, "observability setup failed", "error", err)
		return 2
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	// 2. Notary and blob storage
	lgr, err := ledger.New(ctx, cfg.LedgerOptions())
	if err != nil {
		logger.ErrorContext(ctx, "ledger setup failed", "error", err)
		return 2
	}
	defer closeLedger(lgr)

	blobs, err := artifacts.NewStore(ctx, cfg.ArtifactOptions())
	if err != nil {
		logger.ErrorContext(ctx, "blob store setup failed", "error", err)
		return 2
	}

	// 3. Signing authority
	signer, signingAddress, err := setupSigner(cfg)
	if err != nil {
		logger.ErrorContext(ctx, "signer setup failed", "error", err)
		return 2
	}
	if signingAddress != "" {
		_, _ = fmt.Fprintf(stdout, "Signing address: %s\n", signingAddress)
	}

	// 4. Verifier
	v, err := setupVerifier(cfg, lgr, obs)
	if err != nil {
		logger.ErrorContext(ctx, "verifier setup failed", "error", err)
		return 2
	}

	srv := api.NewServer(
		api.WithSigner(signer),
		api.WithLedger(lgr),
		api.WithBlobStore(blobs),
		api.WithVerifier(v),
		api.WithShares(share.NewService(blobs, share.WithObservability(obs))),
	)

	var handler http.Handler = srv.Handler()
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		handler = api.NewRateLimiter(ctx, cfg.RateLimitRPS, burst*2).Middleware(handler)
	}
	handler = api.RequestID(api.AccessLog(slog.Default().With("component", "http"))(handler))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "addr", httpServer.Addr, "ledger", lgr.ID())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}
