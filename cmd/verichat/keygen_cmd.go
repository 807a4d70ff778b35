package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
)

// runKeygenCmd implements `verichat keygen`. With --words the key pair is
// derived from the given passphrase, otherwise fresh words are drawn.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		words      string
		n          int
		jsonOutput bool
	)
	cmd.StringVar(&words, "words", "", "Derive from this passphrase instead of generating one")
	cmd.IntVar(&n, "n", keymaterial.DefaultWords, "Number of words to generate")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var (
		kp  *keymaterial.KeyPair
		err error
	)
	if words != "" {
		kp, err = keymaterial.DeriveKeyPair(keymaterial.ParsePassphrase(words))
	} else {
		var generated []string
		if generated, err = keymaterial.GeneratePassphrase(n); err == nil {
			kp, err = keymaterial.DeriveKeyPair(generated)
		}
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(map[string]any{
			"passphrase": kp.Passphrase,
			"public_key": kp.PublicKeyHex(),
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "Passphrase: %s\n", kp.PassphraseString())
	_, _ = fmt.Fprintf(stdout, "Public key: %s\n", kp.PublicKeyHex())
	return 0
}
