package http

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/usecase"
)

const (
	msgInvalidJSON   = "JSON inválido"
	msgBodyTooLarge  = "Corpo da requisição muito grande"
	msgSigningFailed = "Erro interno ao assinar"
	msgInternal      = "Erro interno"

	headerEnvelopeID = "X-Envelope-ID"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type keyResponse struct {
	KID       string `json:"kid"`
	Alg       string `json:"alg"`
	PublicKey string `json:"public_key"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type verifyResponse struct {
	Valid  bool                   `json:"valid"`
	KID    string                 `json:"kid"`
	Record domain.TelemetryRecord `json:"record"`
}

type receiptResponse struct {
	EnvelopeID  string `json:"envelope_id"`
	DeviceID    string `json:"device_id"`
	SiteID      string `json:"site_id"`
	Seq         uint64 `json:"seq"`
	KID         string `json:"kid"`
	PayloadHash string `json:"payload_hash"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type rejection interface {
	RejectionMessage() string
}

// handleIngest replies with a bare JSON string, matching what devices
// already parse. Rejections keep status 200 unless REJECTION_STATUS_CODE
// asks for 422.
func (s *Server) handleIngest(c *gin.Context) {
	body, status, err := s.readBody(c)
	if err != nil {
		s.countOutcome(usecase.OutcomeInvalidJSON)
		if status == http.StatusRequestEntityTooLarge {
			c.JSON(status, msgBodyTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, msgInvalidJSON)
		return
	}
	record, err := domain.ParseTelemetryRecord(body)
	if err != nil {
		s.countOutcome(usecase.OutcomeInvalidJSON)
		c.JSON(http.StatusBadRequest, msgInvalidJSON)
		return
	}

	res, err := s.ingest.Execute(c.Request.Context(), usecase.IngestRequest{
		Record:    record,
		Source:    "http",
		RequestID: c.GetString(ctxRequestID),
	})
	if err != nil {
		s.writeIngestError(c, err)
		return
	}
	if res.RateLimit != nil {
		writeRateLimitHeaders(c, *res.RateLimit)
	}
	c.Header(headerEnvelopeID, res.EnvelopeID)
	c.JSON(ackStatus(res.Ack.Code), res.Ack.Message)
}

func (s *Server) handleVerify(c *gin.Context) {
	if s.verify == nil {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	body, status, err := s.readBody(c)
	if err != nil {
		writeErrorCode(c, status, "INVALID_BODY", err.Error())
		return
	}
	res, err := s.verify.Execute(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{Valid: true, KID: res.KID, Record: res.Record})
}

func (s *Server) handleSigningKey(c *gin.Context) {
	if s.key == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	published := s.key.Published()
	c.JSON(http.StatusOK, keyResponse{
		KID:       published.KID,
		Alg:       published.Alg,
		PublicKey: base64.StdEncoding.EncodeToString(published.PublicKey),
		Status:    string(published.Status),
		CreatedAt: published.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReceipt(c *gin.Context) {
	if s.receipts == nil {
		writeErrorCode(c, http.StatusNotFound, "LEDGER_DISABLED", "delivery ledger is not configured")
		return
	}
	receipt, err := s.receipts.Get(c.Request.Context(), c.Param("envelope_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptResponse{
		EnvelopeID:  receipt.EnvelopeID,
		DeviceID:    receipt.DeviceID,
		SiteID:      receipt.SiteID,
		Seq:         receipt.Seq,
		KID:         receipt.KID,
		PayloadHash: receipt.PayloadHash,
		Status:      string(receipt.Status),
		Attempts:    receipt.Attempts,
		LastError:   receipt.LastError,
		CreatedAt:   receipt.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   receipt.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost && c.Request.URL.Path == "/v1/envelopes:verify" {
		s.handleVerify(c)
		return
	}
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (s *Server) readBody(c *gin.Context) ([]byte, int, error) {
	reader := c.Request.Body
	if s.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, err
		}
		return nil, http.StatusBadRequest, err
	}
	return body, http.StatusOK, nil
}

func (s *Server) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.IngestOutcome(outcome)
	}
}

func ackStatus(code usecase.AckCode) int {
	switch code {
	case usecase.AckAccepted:
		return http.StatusAccepted
	case usecase.AckFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

func (s *Server) writeIngestError(c *gin.Context, err error) {
	var limited *domain.RateLimitedError
	if errors.As(err, &limited) {
		if !limited.Unavailable {
			writeRateLimitHeaders(c, limited.Decision)
		}
		c.JSON(http.StatusTooManyRequests, limited.RejectionMessage())
		return
	}
	var rej rejection
	if errors.As(err, &rej) {
		c.JSON(s.rejectStatus, rej.RejectionMessage())
		return
	}
	if errors.Is(err, domain.ErrSigning) {
		c.JSON(http.StatusInternalServerError, msgSigningFailed)
		return
	}
	c.JSON(http.StatusInternalServerError, msgInternal)
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidEnvelope):
		status, code = http.StatusBadRequest, "INVALID_ENVELOPE"
	case errors.Is(err, domain.ErrSignatureInvalid):
		status, code = http.StatusBadRequest, "SIGNATURE_INVALID"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
