// Package attest lets backends check envelopes produced by the gateway
// without running it.
package attest

import (
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	cryptoinfra "github.com/mateusicomp/aqua-monitor/internal/infra/crypto"
)

// VerifyEnvelopeJSON checks a {"payload":...,"signature":"..."} body against
// pub and returns the attested record.
func VerifyEnvelopeJSON(body []byte, pub ed25519.PublicKey) (domain.TelemetryRecord, error) {
	service := &cryptoinfra.Service{}
	env, err := service.DecodeEnvelope(body)
	if err != nil {
		return domain.TelemetryRecord{}, err
	}
	return service.VerifyEnvelope(env, pub)
}

// SignRecord produces the same envelope the gateway would for record.
func SignRecord(record domain.TelemetryRecord, priv ed25519.PrivateKey) (domain.SignedEnvelope, error) {
	pub := priv.Public().(ed25519.PublicKey)
	key, err := domain.NewSigningKey(KeyID(pub), priv, domain.KeySourceInjected, time.Now())
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	return cryptoinfra.NewService().SignRecord(record, key)
}

func MarshalEnvelope(env domain.SignedEnvelope) ([]byte, error) {
	return json.Marshal(env)
}

func CanonicalRecord(record domain.TelemetryRecord) ([]byte, error) {
	return cryptoinfra.CanonicalRecord(record)
}

func KeyID(pub ed25519.PublicKey) string {
	return cryptoinfra.KeyIDFromPublicKey(pub)
}
