package crypto

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

// CanonicalVersion identifies the byte layout produced by CanonicalRecord.
//
// Layout (no whitespace, members in lexicographic key order as in RFC 8785):
//
//	{"device_id":S,"measurements":[{"parameter":S,"unit":S,"value":N},...],
//	 "msg_type":S,"seq":I,"sent_at":S,"site_id":S,"version":S}
//
// Strings follow JCS escaping, N follows ECMAScript number formatting and I is
// the exact unsigned decimal of seq (never an exponent, so all of uint64 fits).
// Measurements keep their submission order.
const CanonicalVersion = "telemetry-jcs-v1"

var ErrNonFiniteNumber = errors.New("non-finite number cannot be canonicalized")

func CanonicalRecord(record domain.TelemetryRecord) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Grow(128 + 64*len(record.Measurements))

	buf.WriteString(`{"device_id":`)
	writeString(buf, record.DeviceID)
	buf.WriteString(`,"measurements":[`)
	for i, m := range record.Measurements {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMeasurement(buf, m); err != nil {
			return nil, fmt.Errorf("measurement %d: %w", i, err)
		}
	}
	buf.WriteString(`],"msg_type":`)
	writeString(buf, record.MsgType)
	buf.WriteString(`,"seq":`)
	buf.WriteString(strconv.FormatUint(record.Seq, 10))
	buf.WriteString(`,"sent_at":`)
	writeString(buf, record.SentAt)
	buf.WriteString(`,"site_id":`)
	writeString(buf, record.SiteID)
	buf.WriteString(`,"version":`)
	writeString(buf, record.Version)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMeasurement(buf *bytes.Buffer, m domain.Measurement) error {
	value, err := canonicalizeFloat(m.Value)
	if err != nil {
		return err
	}
	buf.WriteString(`{"parameter":`)
	writeString(buf, m.Parameter)
	buf.WriteString(`,"unit":`)
	writeString(buf, m.Unit)
	buf.WriteString(`,"value":`)
	buf.WriteString(value)
	buf.WriteByte('}')
	return nil
}

// DecodeRecord parses a record strictly: unknown, missing or null members and
// trailing data are rejected so nothing unsigned can ride along with a
// verified payload.
func DecodeRecord(data []byte) (domain.TelemetryRecord, error) {
	record, err := domain.ParseTelemetryRecord(data)
	if err != nil {
		return domain.TelemetryRecord{}, fmt.Errorf("invalid record JSON: %w", err)
	}
	return record, nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")

func canonicalizeFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrNonFiniteNumber
	}
	if f == 0 {
		return "0", nil
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = math.Abs(f)
	}

	mantissa, exp, err := splitScientific(f)
	if err != nil {
		return "", err
	}

	digits := strings.ReplaceAll(mantissa, ".", "")

	if exp <= -7 || exp >= 21 {
		expStr := strconv.Itoa(exp)
		if exp > 0 {
			expStr = "+" + expStr
		}
		if len(digits) == 1 {
			return sign + digits + "e" + expStr, nil
		}
		return sign + digits[:1] + "." + digits[1:] + "e" + expStr, nil
	}

	point := exp + 1
	if point >= len(digits) {
		return sign + digits + strings.Repeat("0", point-len(digits)), nil
	}
	if point <= 0 {
		return sign + "0." + strings.Repeat("0", -point) + digits, nil
	}
	return sign + digits[:point] + "." + digits[point:], nil
}

func splitScientific(f float64) (string, int, error) {
	s := strconv.FormatFloat(f, 'e', -1, 64)
	parts := strings.SplitN(s, "e", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("invalid float format: %q", s)
	}
	exp, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid float exponent: %w", err)
	}
	return parts[0], exp, nil
}
