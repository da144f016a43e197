package attest

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

type vectorKeys struct {
	KID             string `json:"kid"`
	SeedHex         string `json:"seed_hex"`
	PublicKeyBase64 string `json:"public_key_base64"`
}

func readVector(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testvectors", "v1", name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}

func loadVector(t *testing.T) (domain.TelemetryRecord, vectorKeys) {
	t.Helper()
	var record domain.TelemetryRecord
	if err := json.Unmarshal(readVector(t, "record_1.json"), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	var keys vectorKeys
	if err := json.Unmarshal(readVector(t, "keys.json"), &keys); err != nil {
		t.Fatalf("decode keys: %v", err)
	}
	return record, keys
}

func TestSignRecord_Vector1(t *testing.T) {
	record, keys := loadVector(t)
	priv, err := ParseEd25519PrivateKeyHex(keys.SeedHex)
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	pub, err := ParseEd25519PublicKeyBase64(keys.PublicKeyBase64)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	if KeyID(pub) != keys.KID {
		t.Fatalf("kid mismatch: got %s want %s", KeyID(pub), keys.KID)
	}

	canonical, err := CanonicalRecord(record)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(canonical) != string(readVector(t, "canonical_1.json")) {
		t.Fatalf("canonical mismatch:\n got: %s", canonical)
	}

	env, err := SignRecord(record, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	want := strings.TrimSpace(string(readVector(t, "signature_1.b64")))
	if env.Signature() != want {
		t.Fatalf("signature mismatch:\n got: %s\nwant: %s", env.Signature(), want)
	}
	if env.KeyID() != keys.KID {
		t.Fatalf("envelope kid mismatch: %s", env.KeyID())
	}
}

func TestVerifyEnvelopeJSON_Vector1(t *testing.T) {
	record, keys := loadVector(t)
	pub, err := ParseEd25519PublicKeyBase64(keys.PublicKeyBase64)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	body := `{"payload":` + string(readVector(t, "canonical_1.json")) + `,"signature":"` + strings.TrimSpace(string(readVector(t, "signature_1.b64"))) + `"}`

	got, err := VerifyEnvelopeJSON([]byte(body), pub)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.DeviceID != record.DeviceID || len(got.Measurements) != 3 || got.Measurements[2].Value != -0.25 {
		t.Fatalf("unexpected record: %+v", got)
	}

	tampered := strings.Replace(body, `"value":24.5`, `"value":25.5`, 1)
	if _, err := VerifyEnvelopeJSON([]byte(tampered), pub); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}

	reordered := `{"signature":"` + strings.TrimSpace(string(readVector(t, "signature_1.b64"))) + `","payload":` + string(readVector(t, "record_1.json")) + `}`
	if _, err := VerifyEnvelopeJSON([]byte(reordered), pub); err == nil {
		t.Fatal("re-serialized payload must not verify")
	}
}

func TestSignThenVerifyRoundTrip(t *testing.T) {
	record, keys := loadVector(t)
	priv, err := ParseEd25519PrivateKeyHex(keys.SeedHex)
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	env, err := SignRecord(record, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	body, err := MarshalEnvelope(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := VerifyEnvelopeJSON(body, priv.Public().(ed25519.PublicKey)); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestParseKeysRejectBadLengths(t *testing.T) {
	if _, err := ParseEd25519PrivateKeyHex("abcd"); err == nil {
		t.Fatal("expected error for short seed")
	}
	if _, err := ParseEd25519PublicKeyHex("abcd"); err == nil {
		t.Fatal("expected error for short public key")
	}
	if _, err := ParseEd25519PublicKeyBase64("not base64!"); err == nil {
		t.Fatal("expected error for bad base64")
	}
}
