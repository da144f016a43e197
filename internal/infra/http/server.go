package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mateusicomp/aqua-monitor/internal/config"
	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/logging"
	"github.com/mateusicomp/aqua-monitor/internal/usecase"
)

type Ingestor interface {
	Execute(ctx context.Context, req usecase.IngestRequest) (*usecase.IngestResult, error)
}

type Verifier interface {
	Execute(ctx context.Context, body []byte) (*usecase.VerifyEnvelopeResult, error)
}

type ReceiptReader interface {
	Get(ctx context.Context, envelopeID string) (*domain.DeliveryReceipt, error)
}

type Server struct {
	cfg config.Config
	r   *gin.Engine
	log *slog.Logger

	ingest   Ingestor
	verify   Verifier
	receipts ReceiptReader
	key      *domain.SigningKey
	metrics  usecase.Metrics
	gatherer prometheus.Gatherer
	dbMode   string

	maxBodyBytes int64
	rejectStatus int
}

type ServerDeps struct {
	Ingest    Ingestor
	Verify    Verifier
	Receipts  ReceiptReader
	Key       *domain.SigningKey
	Metrics   usecase.Metrics
	Gatherer  prometheus.Gatherer
	DBEnabled bool
	Logger    *slog.Logger
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:          cfg,
		r:            r,
		log:          deps.Logger,
		ingest:       deps.Ingest,
		verify:       deps.Verify,
		receipts:     deps.Receipts,
		key:          deps.Key,
		metrics:      deps.Metrics,
		gatherer:     deps.Gatherer,
		dbMode:       "no-db",
		maxBodyBytes: int64(cfg.MaxBodyBytes),
		rejectStatus: cfg.RejectionStatusCode,
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.rejectStatus == 0 {
		s.rejectStatus = http.StatusOK
	}
	if deps.DBEnabled {
		s.dbMode = "db"
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	r.Use(requestID(), accessLog(s.log))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.dbMode})
	})
	s.r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.r.POST("/ingest", s.handleIngest)

	v1 := s.r.Group("/v1")
	{
		v1.GET("/keys/signing", s.handleSigningKey)
		v1.GET("/receipts/:envelope_id", s.handleReceipt)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http_listening", slog.String("addr", s.cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
