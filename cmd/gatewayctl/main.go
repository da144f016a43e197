package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(args, stderr)
		return 1
	}

	switch args[1] {
	case "keygen":
		return runKeygen(args[2:], stdout, stderr)
	case "pubkey":
		return runPubkey(args[2:], stdout, stderr)
	case "sign":
		return runSign(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	}

	usage(args, stderr)
	return 1
}

func usage(args []string, stderr io.Writer) {
	name := "gatewayctl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(stderr, "usage:\n")
	fmt.Fprintf(stderr, "  %s keygen --out <signing_key.json> [--sealed]\n", name)
	fmt.Fprintf(stderr, "  %s pubkey --key-file <signing_key.json>\n", name)
	fmt.Fprintf(stderr, "  %s sign --in <record.json> (--key-file <file>|--key-hex <hex>|--key-base64 <b64>) [--out <file>]\n", name)
	fmt.Fprintf(stderr, "  %s verify --in <envelope.json> (--key-file <file>|--pubkey-hex <hex>|--pubkey-base64 <b64>)\n", name)
	fmt.Fprintf(stderr, "--sealed and sealed key files read SIGNING_KEY_MASTER_SECRET from the environment.\n")
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, stdout io.Writer, payload []byte) error {
	if path == "" || path == "-" {
		if _, err := stdout.Write(payload); err != nil {
			return err
		}
		_, err := stdout.Write([]byte("\n"))
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}
