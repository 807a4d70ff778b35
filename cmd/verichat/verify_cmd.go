package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/verichat/pkg/ledger"
	"github.com/Mindburn-Labs/verichat/pkg/receipt"
	"github.com/Mindburn-Labs/verichat/pkg/verifier"
)

// runVerifyCmd implements `verichat verify`.
//
// Exit codes:
//
//	0 = all checks passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptPath string
		configPath  string
		jsonOutput  bool
	)
	cmd.StringVar(&receiptPath, "receipt", "", "Path to the receipt JSON, or - for stdin (REQUIRED)")
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if receiptPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --receipt is required")
		return 2
	}

	data, err := readInput(receiptPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	r, err := receipt.Parse(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	setupLogging(cfg.LogLevel, stderr)

	ctx := context.Background()
	lgr, err := ledger.New(ctx, cfg.LedgerOptions())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: ledger: %v\n", err)
		return 2
	}
	defer closeLedger(lgr)

	v, err := setupVerifier(cfg, lgr, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	res, err := v.Verify(ctx, r)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(struct {
			*verifier.Result
			Summary string `json:"summary"`
		}{res, res.Summary()}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	} else {
		printResult(stdout, r, res)
	}

	if !res.Valid {
		return 1
	}
	return 0
}

func printResult(w io.Writer, r *receipt.Receipt, res *verifier.Result) {
	_, _ = fmt.Fprintln(w, res.Summary())
	_, _ = fmt.Fprintf(w, "Proof hash: %s\n", r.ProofHash)
	for _, name := range verifier.CheckOrder {
		c, _ := res.Check(name)
		mark := "ok  "
		if !c.Valid {
			mark = "FAIL"
		}
		if c.Message != "" {
			_, _ = fmt.Fprintf(w, "  %s %-16s %s\n", mark, name, c.Message)
		} else {
			_, _ = fmt.Fprintf(w, "  %s %s\n", mark, name)
		}
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path) //nolint:gosec // operator-supplied path
}
