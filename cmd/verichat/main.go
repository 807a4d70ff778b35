package main

import (
	"fmt"
	"io"
	"os"

	_ "github.com/lib/pq" // Postgres driver for the SQL ledger
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "ref":
		return runRefCmd(args[2:], stdout, stderr)
	case "share":
		return runShareCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "verichat - attested, end-to-end encrypted inference receipts")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  verichat <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "serve", "Run the signer, notary, blob and verify API")
	printCommand(w, "verify", "Verify a receipt (--receipt, --json)")
	printCommand(w, "keygen", "Generate or derive an X25519 key pair (--words, --n)")
	printCommand(w, "ref", "Encode or decode a text reference (encode|decode)")
	printCommand(w, "share", "Open a shared conversation (open --id --passphrase)")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Every command accepts --config <file.yaml>; environment variables override it.")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}
