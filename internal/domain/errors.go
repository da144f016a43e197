package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidEnvelope  = errors.New("invalid envelope")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrPolicyDenied     = errors.New("policy denied")
	ErrRateLimited      = errors.New("rate limited")
	ErrSigning          = errors.New("signing failed")
	ErrMalformedRecord  = errors.New("malformed telemetry record")
)

type ValidationKind string

const (
	ValidationEmptyMeasurements ValidationKind = "empty_measurements"
	ValidationMissingField      ValidationKind = "missing_field"
)

// ValidationError is a structural rejection of a TelemetryRecord. It is
// surfaced to the submitter and stops processing of the request.
type ValidationError struct {
	Kind  ValidationKind
	Field string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ValidationEmptyMeasurements:
		return "no measurements found"
	case ValidationMissingField:
		return fmt.Sprintf("missing required field: %s", e.Field)
	default:
		return "invalid record"
	}
}

// RejectionMessage is the text returned to the submitter.
func (e *ValidationError) RejectionMessage() string {
	switch e.Kind {
	case ValidationEmptyMeasurements:
		return "Nenhuma medição encontrada"
	case ValidationMissingField:
		return "Campo obrigatório ausente: " + e.Field
	default:
		return "Registro inválido"
	}
}

func EmptyMeasurements() *ValidationError {
	return &ValidationError{Kind: ValidationEmptyMeasurements}
}

func MissingField(name string) *ValidationError {
	return &ValidationError{Kind: ValidationMissingField, Field: name}
}

// KeyLoadError means the persisted signing key exists but cannot be used.
// It is fatal at startup.
type KeyLoadError struct {
	Path string
	Err  error
}

func (e *KeyLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load signing key: %v", e.Err)
	}
	return fmt.Sprintf("load signing key %s: %v", e.Path, e.Err)
}

func (e *KeyLoadError) Unwrap() error { return e.Err }

// ForwardError reports a failed delivery of an envelope to the backend.
// StatusCode is zero for transport-level failures.
type ForwardError struct {
	Target     string
	StatusCode int
	Err        error
}

func (e *ForwardError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("forward to %s: status %d: %v", e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("forward to %s: %v", e.Target, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// RateLimitedError rejects a record because its device exceeded the ingest
// rate, or because the limiter is unavailable and configured to fail closed.
type RateLimitedError struct {
	Decision    RateLimitDecision
	Unavailable bool
	Err         error
}

func (e *RateLimitedError) Error() string {
	if e.Unavailable {
		return fmt.Sprintf("rate limiter unavailable: %v", e.Err)
	}
	return "rate limit exceeded"
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

func (e *RateLimitedError) RejectionMessage() string {
	return "Limite de requisições excedido"
}

// PolicyDeniedError rejects a record refused by the ingest admission policy.
type PolicyDeniedError struct {
	Evaluation PolicyEvaluation
}

func (e *PolicyDeniedError) Error() string {
	codes := make([]string, 0, len(e.Evaluation.Result.Deny))
	for _, deny := range e.Evaluation.Result.Deny {
		codes = append(codes, deny.Code)
	}
	return fmt.Sprintf("policy denied: %v", codes)
}

func (e *PolicyDeniedError) Unwrap() error { return ErrPolicyDenied }

func (e *PolicyDeniedError) RejectionMessage() string {
	return e.Evaluation.RejectionMessage()
}
