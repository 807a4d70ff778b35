package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
	"github.com/Mindburn-Labs/verichat/pkg/reference"
)

func runRefCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: verichat ref <encode|decode> [options]")
		return 2
	}
	switch args[0] {
	case "encode":
		return runRefEncode(args[1:], stdout, stderr)
	case "decode":
		return runRefDecode(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown ref subcommand: %s\n", args[0])
		return 2
	}
}

// runRefEncode prints the reference, and its link when --base and
// --passphrase are both given.
func runRefEncode(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ref encode", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		shareID    string
		index      int
		start, end int
		base       string
		passphrase string
	)
	cmd.StringVar(&shareID, "share", "", "Share id (REQUIRED)")
	cmd.IntVar(&index, "message", 0, "Message index")
	cmd.IntVar(&start, "start", 0, "Start offset in code points")
	cmd.IntVar(&end, "end", 0, "End offset in code points, exclusive")
	cmd.StringVar(&base, "base", "", "Base URL for the share link")
	cmd.StringVar(&passphrase, "passphrase", "", "Share passphrase to embed in the link")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	s, err := reference.Encode(shareID, index, start, end)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, s)

	if base != "" && passphrase != "" {
		r, _ := reference.Decode(s)
		_, _ = fmt.Fprintln(stdout, reference.Link(base, r, keymaterial.ParsePassphrase(passphrase)))
	}
	return 0
}

// runRefDecode accepts the compact form or a full share link.
func runRefDecode(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ref decode", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: verichat ref decode <reference|link>")
		return 2
	}
	in := cmd.Arg(0)

	out := struct {
		reference.Reference
		Passphrase []string `json:"passphrase,omitempty"`
	}{}
	var err error
	if strings.Contains(in, "/r/") {
		out.Reference, out.Passphrase, err = reference.ParseLink(in)
	} else {
		out.Reference, err = reference.Decode(in)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
