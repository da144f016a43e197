package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type Measurement struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
}

// TelemetryRecord is one sensor report as submitted by a device. Seq is
// monotonic per device but the gateway never enforces ordering.
type TelemetryRecord struct {
	Version      string        `json:"version"`
	MsgType      string        `json:"msg_type"`
	DeviceID     string        `json:"device_id"`
	SiteID       string        `json:"site_id"`
	SentAt       string        `json:"sent_at"`
	Seq          uint64        `json:"seq"`
	Measurements []Measurement `json:"measurements"`
}

func (r TelemetryRecord) Clone() TelemetryRecord {
	out := r
	if r.Measurements != nil {
		out.Measurements = make([]Measurement, len(r.Measurements))
		copy(out.Measurements, r.Measurements)
	}
	return out
}

type measurementWire struct {
	Parameter *string  `json:"parameter"`
	Value     *float64 `json:"value"`
	Unit      *string  `json:"unit"`
}

type recordWire struct {
	Version      *string           `json:"version"`
	MsgType      *string           `json:"msg_type"`
	DeviceID     *string           `json:"device_id"`
	SiteID       *string           `json:"site_id"`
	SentAt       *string           `json:"sent_at"`
	Seq          *uint64           `json:"seq"`
	Measurements []measurementWire `json:"measurements"`
}

// ParseTelemetryRecord decodes a record whose member set must match exactly:
// unknown, missing or null members and trailing data are all rejected, so a
// zero value is never signed in place of something the device did not send.
// An empty measurements array is structurally fine; the validator rejects it.
func ParseTelemetryRecord(data []byte) (TelemetryRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var wire recordWire
	if err := dec.Decode(&wire); err != nil {
		return TelemetryRecord{}, errors.Join(ErrMalformedRecord, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return TelemetryRecord{}, fmt.Errorf("%w: trailing data after record", ErrMalformedRecord)
	}

	present := []struct {
		name string
		ok   bool
	}{
		{"version", wire.Version != nil},
		{"msg_type", wire.MsgType != nil},
		{"device_id", wire.DeviceID != nil},
		{"site_id", wire.SiteID != nil},
		{"sent_at", wire.SentAt != nil},
		{"seq", wire.Seq != nil},
		{"measurements", wire.Measurements != nil},
	}
	for _, field := range present {
		if !field.ok {
			return TelemetryRecord{}, fmt.Errorf("%w: %s is missing or null", ErrMalformedRecord, field.name)
		}
	}

	record := TelemetryRecord{
		Version:      *wire.Version,
		MsgType:      *wire.MsgType,
		DeviceID:     *wire.DeviceID,
		SiteID:       *wire.SiteID,
		SentAt:       *wire.SentAt,
		Seq:          *wire.Seq,
		Measurements: make([]Measurement, 0, len(wire.Measurements)),
	}
	for i, m := range wire.Measurements {
		switch {
		case m.Parameter == nil:
			return TelemetryRecord{}, fmt.Errorf("%w: measurements[%d].parameter is missing or null", ErrMalformedRecord, i)
		case m.Value == nil:
			return TelemetryRecord{}, fmt.Errorf("%w: measurements[%d].value is missing or null", ErrMalformedRecord, i)
		case m.Unit == nil:
			return TelemetryRecord{}, fmt.Errorf("%w: measurements[%d].unit is missing or null", ErrMalformedRecord, i)
		}
		record.Measurements = append(record.Measurements, Measurement{
			Parameter: *m.Parameter,
			Value:     *m.Value,
			Unit:      *m.Unit,
		})
	}
	return record, nil
}
