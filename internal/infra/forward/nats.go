package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

const defaultFlushTimeout = 5 * time.Second

type NATSForwarder struct {
	subject      string
	conn         natsPublisher
	drain        func() error
	flushTimeout time.Duration
}

type NATSConfig struct {
	URL     string
	Subject string
	Name    string
	Timeout time.Duration
}

func NewNATSForwarder(cfg NATSConfig) (*NATSForwarder, error) {
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, errors.New("nats subject must not be empty")
	}
	opts := []nats.Option{nats.Name(cfg.Name), nats.MaxReconnects(-1)}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	f := newNATSForwarderWithConn(cfg.Subject, nc)
	f.drain = nc.Drain
	if cfg.Timeout > 0 {
		f.flushTimeout = cfg.Timeout
	}
	return f, nil
}

func newNATSForwarderWithConn(subject string, conn natsPublisher) *NATSForwarder {
	return &NATSForwarder{subject: subject, conn: conn, flushTimeout: defaultFlushTimeout}
}

func (f *NATSForwarder) Target() string { return "nats://" + f.subject }

// Forward publishes and flushes, so a nil error means the server has the message.
func (f *NATSForwarder) Forward(ctx context.Context, env domain.SignedEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return &domain.ForwardError{Target: f.Target(), Err: fmt.Errorf("marshal envelope: %w", err)}
	}
	msg := nats.NewMsg(f.subject)
	msg.Data = body
	msg.Header.Set("Nats-Msg-Id", env.ID())
	msg.Header.Set("X-Signature-Key-Id", env.KeyID())
	msg.Header.Set("X-Signature-Alg", env.Alg())
	if err := f.conn.PublishMsg(msg); err != nil {
		return &domain.ForwardError{Target: f.Target(), Err: err}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.flushTimeout)
		defer cancel()
	}
	if err := f.conn.FlushWithContext(ctx); err != nil {
		return &domain.ForwardError{Target: f.Target(), Err: fmt.Errorf("flush: %w", err)}
	}
	return nil
}

func (f *NATSForwarder) Close() error {
	if f.drain == nil {
		return nil
	}
	return f.drain()
}
