package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleRecord = `{"version":"1.0","msg_type":"telemetry","device_id":"sonda-01","site_id":"tank-a","sent_at":"2024-05-01T12:00:00Z","seq":3,"measurements":[{"parameter":"ph","value":7.1,"unit":"pH"}]}`

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"gatewayctl"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestKeygenSignVerify(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signing_key.json")
	recordPath := filepath.Join(dir, "record.json")
	envPath := filepath.Join(dir, "envelope.json")
	if err := os.WriteFile(recordPath, []byte(sampleRecord), 0o600); err != nil {
		t.Fatalf("write record: %v", err)
	}

	code, out, errOut := runCLI("keygen", "--out", keyPath)
	if code != 0 {
		t.Fatalf("keygen failed: %s", errOut)
	}
	var generated pubkeyOutput
	if err := json.Unmarshal([]byte(out), &generated); err != nil {
		t.Fatalf("decode keygen output: %v", err)
	}

	code, out, errOut = runCLI("pubkey", "--key-file", keyPath)
	if code != 0 {
		t.Fatalf("pubkey failed: %s", errOut)
	}
	var listed pubkeyOutput
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode pubkey output: %v", err)
	}
	if listed.KID != generated.KID || listed.PublicKeyHex != generated.PublicKeyHex {
		t.Fatalf("pubkey does not match keygen: %+v vs %+v", listed, generated)
	}

	if code, _, errOut = runCLI("sign", "--in", recordPath, "--key-file", keyPath, "--out", envPath); code != 0 {
		t.Fatalf("sign failed: %s", errOut)
	}
	code, out, errOut = runCLI("verify", "--in", envPath, "--pubkey-hex", generated.PublicKeyHex)
	if code != 0 {
		t.Fatalf("verify failed: %s", errOut)
	}
	if !strings.Contains(out, `"device_id": "sonda-01"`) {
		t.Fatalf("unexpected verify output: %s", out)
	}

	envelope, err := os.ReadFile(envPath)
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	tampered := strings.Replace(string(envelope), `"seq":3`, `"seq":4`, 1)
	if err := os.WriteFile(envPath, []byte(tampered), 0o600); err != nil {
		t.Fatalf("write tampered envelope: %v", err)
	}
	if code, _, errOut = runCLI("verify", "--in", envPath, "--key-file", keyPath); code == 0 {
		t.Fatal("tampered envelope must not verify")
	}
	if !strings.Contains(errOut, "verification failed") {
		t.Fatalf("unexpected stderr: %s", errOut)
	}
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing_key.json")
	if err := os.WriteFile(keyPath, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code, _, _ := runCLI("keygen", "--out", keyPath); code == 0 {
		t.Fatal("keygen must not overwrite an existing key file")
	}
}

func TestPubkeyRequiresExistingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	if code, _, _ := runCLI("pubkey", "--key-file", missing); code == 0 {
		t.Fatal("pubkey must fail for a missing key file")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Fatal("pubkey must not create a key file")
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI("bogus")
	if code != 1 || !strings.Contains(errOut, "usage:") {
		t.Fatalf("expected usage, got %d %s", code, errOut)
	}
}
