package domain

import (
	"bytes"
	"encoding/json"
	"errors"
)

const SignatureAlgEd25519 = "ed25519"

// SignedEnvelope binds a record to the signature computed over its canonical
// bytes. The canonical bytes are kept verbatim and are what goes on the wire as
// "payload", so the receiver sees exactly the bytes that were signed.
type SignedEnvelope struct {
	id        string
	payload   TelemetryRecord
	canonical []byte
	signature string
	kid       string
	alg       string
}

func NewSignedEnvelope(id string, payload TelemetryRecord, canonical []byte, signature, kid string) SignedEnvelope {
	return SignedEnvelope{
		id:        id,
		payload:   payload.Clone(),
		canonical: append([]byte(nil), canonical...),
		signature: signature,
		kid:       kid,
		alg:       SignatureAlgEd25519,
	}
}

func (e SignedEnvelope) ID() string               { return e.id }
func (e SignedEnvelope) Payload() TelemetryRecord { return e.payload.Clone() }
func (e SignedEnvelope) Signature() string        { return e.signature }
func (e SignedEnvelope) KeyID() string            { return e.kid }
func (e SignedEnvelope) Alg() string              { return e.alg }
func (e SignedEnvelope) IsZero() bool             { return len(e.canonical) == 0 && e.signature == "" }
func (e SignedEnvelope) CanonicalPayload() []byte { return append([]byte(nil), e.canonical...) }

type envelopeWire struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// MarshalJSON writes {"payload":<canonical bytes>,"signature":"<b64>"}.
func (e SignedEnvelope) MarshalJSON() ([]byte, error) {
	if len(e.canonical) == 0 {
		return nil, errors.New("envelope has no canonical payload")
	}
	buf := &bytes.Buffer{}
	buf.WriteString(`{"payload":`)
	buf.Write(e.canonical)
	buf.WriteString(`,"signature":`)
	sig, err := json.Marshal(e.signature)
	if err != nil {
		return nil, err
	}
	buf.Write(sig)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RawEnvelope is an envelope as received from the wire, before verification.
type RawEnvelope struct {
	Payload   json.RawMessage
	Signature string
}

func ParseRawEnvelope(body []byte) (RawEnvelope, error) {
	var wire envelopeWire
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return RawEnvelope{}, errors.Join(ErrInvalidEnvelope, err)
	}
	if len(wire.Payload) == 0 || string(wire.Payload) == "null" || wire.Signature == "" {
		return RawEnvelope{}, ErrInvalidEnvelope
	}
	return RawEnvelope{Payload: wire.Payload, Signature: wire.Signature}, nil
}
