package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/pkg/attest"
)

func runSign(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var inPath string
	var outPath string
	var keyFile string
	var keyHex string
	var keyBase64 string
	fs.StringVar(&inPath, "in", "", "record JSON (default stdin)")
	fs.StringVar(&outPath, "out", "", "envelope output path (default stdout)")
	fs.StringVar(&keyFile, "key-file", "", "signing key file")
	fs.StringVar(&keyHex, "key-hex", "", "ed25519 seed or private key (hex)")
	fs.StringVar(&keyBase64, "key-base64", "", "ed25519 seed or private key (base64)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	priv, err := resolvePrivateKey(keyFile, keyHex, keyBase64)
	if err != nil {
		fmt.Fprintf(stderr, "load key: %v\n", err)
		return 1
	}
	raw, err := readInput(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "read input: %v\n", err)
		return 1
	}
	record, err := domain.ParseTelemetryRecord(raw)
	if err != nil {
		fmt.Fprintf(stderr, "decode record: %v\n", err)
		return 1
	}
	env, err := attest.SignRecord(record, priv)
	if err != nil {
		fmt.Fprintf(stderr, "sign: %v\n", err)
		return 1
	}
	payload, err := attest.MarshalEnvelope(env)
	if err != nil {
		fmt.Fprintf(stderr, "encode envelope: %v\n", err)
		return 1
	}
	if err := writeOutput(outPath, stdout, payload); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var inPath string
	var keyFile string
	var pubHex string
	var pubBase64 string
	fs.StringVar(&inPath, "in", "", "envelope JSON (default stdin)")
	fs.StringVar(&keyFile, "key-file", "", "signing key file")
	fs.StringVar(&pubHex, "pubkey-hex", "", "ed25519 public key (hex)")
	fs.StringVar(&pubBase64, "pubkey-base64", "", "ed25519 public key (base64)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	pub, err := resolvePublicKey(keyFile, pubHex, pubBase64)
	if err != nil {
		fmt.Fprintf(stderr, "load key: %v\n", err)
		return 1
	}
	raw, err := readInput(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "read input: %v\n", err)
		return 1
	}
	record, err := attest.VerifyEnvelopeJSON(bytes.TrimSpace(raw), pub)
	if err != nil {
		fmt.Fprintf(stderr, "verification failed: %v\n", err)
		return 1
	}
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "encode record: %v\n", err)
		return 1
	}
	if err := writeOutput("", stdout, payload); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}

func resolvePrivateKey(keyFile, keyHex, keyBase64 string) (ed25519.PrivateKey, error) {
	switch {
	case keyFile != "":
		key, err := loadKeyFile(keyFile)
		if err != nil {
			return nil, err
		}
		return ed25519.NewKeyFromSeed(key.Seed()), nil
	case keyHex != "":
		return attest.ParseEd25519PrivateKeyHex(keyHex)
	case keyBase64 != "":
		return attest.ParseEd25519PrivateKeyBase64(keyBase64)
	default:
		return nil, fmt.Errorf("one of --key-file, --key-hex or --key-base64 is required")
	}
}

func resolvePublicKey(keyFile, pubHex, pubBase64 string) (ed25519.PublicKey, error) {
	switch {
	case keyFile != "":
		key, err := loadKeyFile(keyFile)
		if err != nil {
			return nil, err
		}
		return key.PublicKey, nil
	case pubHex != "":
		return attest.ParseEd25519PublicKeyHex(pubHex)
	case pubBase64 != "":
		return attest.ParseEd25519PublicKeyBase64(pubBase64)
	default:
		return nil, fmt.Errorf("one of --key-file, --pubkey-hex or --pubkey-base64 is required")
	}
}
