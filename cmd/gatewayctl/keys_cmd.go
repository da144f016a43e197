package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/infra/keys/soft"
)

type pubkeyOutput struct {
	KID             string `json:"kid"`
	Alg             string `json:"alg"`
	PublicKeyBase64 string `json:"public_key_base64"`
	PublicKeyHex    string `json:"public_key_hex"`
	CreatedAt       string `json:"created_at"`
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var outPath string
	var sealed bool
	fs.StringVar(&outPath, "out", "", "key file to create")
	fs.BoolVar(&sealed, "sealed", false, "seal the private key with SIGNING_KEY_MASTER_SECRET")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if outPath == "" {
		fmt.Fprintln(stderr, "keygen requires --out")
		return 1
	}
	if _, err := os.Stat(outPath); err == nil {
		fmt.Fprintf(stderr, "refusing to overwrite existing key file %s\n", outPath)
		return 1
	}
	opts := soft.Options{Path: outPath}
	if sealed {
		opts.MasterSecret = os.Getenv("SIGNING_KEY_MASTER_SECRET")
		if opts.MasterSecret == "" {
			fmt.Fprintln(stderr, "--sealed requires SIGNING_KEY_MASTER_SECRET")
			return 1
		}
	}
	key, err := soft.NewStore(opts).Initialize(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "generate key: %v\n", err)
		return 1
	}
	return printKey(key, stdout, stderr)
}

func runPubkey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pubkey", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var keyFile string
	fs.StringVar(&keyFile, "key-file", "", "signing key file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKeyFile(keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "load key: %v\n", err)
		return 1
	}
	return printKey(key, stdout, stderr)
}

// loadKeyFile never creates a key: a missing file is an error here.
func loadKeyFile(path string) (*domain.SigningKey, error) {
	if path == "" {
		return nil, fmt.Errorf("--key-file is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return soft.NewStore(soft.Options{
		Path:         path,
		MasterSecret: os.Getenv("SIGNING_KEY_MASTER_SECRET"),
	}).Initialize(context.Background())
}

func printKey(key *domain.SigningKey, stdout, stderr io.Writer) int {
	payload, err := json.MarshalIndent(pubkeyOutput{
		KID:             key.KID,
		Alg:             key.Alg,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(key.PublicKey),
		PublicKeyHex:    hex.EncodeToString(key.PublicKey),
		CreatedAt:       key.CreatedAt.Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "encode key: %v\n", err)
		return 1
	}
	if err := writeOutput("", stdout, payload); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}
