package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/verichat/pkg/artifacts"
	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
	"github.com/Mindburn-Labs/verichat/pkg/share"
)

func runShareCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "open" {
		_, _ = fmt.Fprintln(stderr, "Usage: verichat share open --id ID --passphrase \"w1 w2 ...\"")
		return 2
	}
	return runShareOpen(args[1:], stdout, stderr)
}

// runShareOpen fetches a sealed bundle from the configured blob store and
// prints the decrypted payload.
func runShareOpen(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("share open", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		id         string
		passphrase string
		configPath string
	)
	cmd.StringVar(&id, "id", "", "Share id (REQUIRED)")
	cmd.StringVar(&passphrase, "passphrase", "", "Share passphrase (REQUIRED)")
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" || passphrase == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id and --passphrase are required")
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	setupLogging(cfg.LogLevel, stderr)

	ctx := context.Background()
	store, err := artifacts.NewStore(ctx, cfg.ArtifactOptions())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: blob store: %v\n", err)
		return 2
	}

	payload, err := share.NewService(store).Open(ctx, id, keymaterial.ParsePassphrase(passphrase))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	data, _ := json.MarshalIndent(payload, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
