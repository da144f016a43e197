package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

const maxErrorBody = 512

// HTTPForwarder POSTs {"payload": ..., "signature": ...} to the backend ingest URL.
type HTTPForwarder struct {
	endpoint   string
	httpClient *http.Client
}

type Option func(*HTTPForwarder)

func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPForwarder) {
		f.httpClient = client
	}
}

func NewHTTPForwarder(endpoint string, opts ...Option) *HTTPForwarder {
	f := &HTTPForwarder{
		endpoint: strings.TrimSpace(endpoint),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPForwarder) Target() string { return f.endpoint }

func (f *HTTPForwarder) Forward(ctx context.Context, env domain.SignedEnvelope) error {
	if f == nil || f.endpoint == "" {
		return &domain.ForwardError{Err: errors.New("backend endpoint is required")}
	}
	body, err := json.Marshal(env)
	if err != nil {
		return &domain.ForwardError{Target: f.endpoint, Err: fmt.Errorf("marshal envelope: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return &domain.ForwardError{Target: f.endpoint, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if env.ID() != "" {
		req.Header.Set("X-Request-ID", env.ID())
	}
	req.Header.Set("X-Signature-Key-Id", env.KeyID())
	req.Header.Set("X-Signature-Alg", env.Alg())

	httpClient := f.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &domain.ForwardError{Target: f.endpoint, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.ForwardError{
			Target:     f.endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("backend rejected envelope: %s", strings.TrimSpace(string(bodyBytes))),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (f *HTTPForwarder) Close() error { return nil }
