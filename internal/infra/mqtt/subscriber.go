package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/usecase"
)

const (
	replyInvalidJSON = "JSON inválido"
	replySignError   = "Erro interno ao assinar"
	replyInternal    = "Erro interno"

	defaultQoS         = 1
	defaultWaitTimeout = 10 * time.Second
)

type Ingestor interface {
	Execute(ctx context.Context, req usecase.IngestRequest) (*usecase.IngestResult, error)
}

type Config struct {
	BrokerURL string
	Topic     string
	ClientID  string
	Username  string
	Password  string
	// HandleTimeout bounds one message, forwarding included.
	HandleTimeout time.Duration
}

// Subscriber feeds MQTT telemetry into the same ingest path as HTTP. Every
// message gets exactly one reply on <message topic>/ack.
type Subscriber struct {
	client  paho.Client
	ingest  Ingestor
	topic   string
	timeout time.Duration
	log     *slog.Logger
	baseCtx context.Context
}

func NewSubscriber(cfg Config, ingest Ingestor, log *slog.Logger) (*Subscriber, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("mqtt topic is required")
	}
	if ingest == nil {
		return nil, errors.New("ingestor is required")
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	s := newSubscriber(nil, ingest, cfg.Topic, cfg.HandleTimeout, log)
	opts.SetOnConnectHandler(func(c paho.Client) {
		if err := s.subscribe(c); err != nil {
			s.log.Error("mqtt_subscribe_failed", slog.String("topic", s.topic), slog.Any("err", err))
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.log.Warn("mqtt_connection_lost", slog.Any("err", err))
	})
	s.client = paho.NewClient(opts)
	return s, nil
}

func newSubscriber(client paho.Client, ingest Ingestor, topic string, timeout time.Duration, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	return &Subscriber{
		client:  client,
		ingest:  ingest,
		topic:   topic,
		timeout: timeout,
		log:     log.With(slog.String("transport", "mqtt")),
		baseCtx: context.Background(),
	}
}

// Start connects and subscribes. Handlers run until ctx is cancelled or Stop
// is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.baseCtx = ctx
	token := s.client.Connect()
	if !token.WaitTimeout(defaultWaitTimeout) {
		return errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	s.log.Info("mqtt_connected", slog.String("topic", s.topic))
	return nil
}

func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	s.client.Unsubscribe(s.topic).WaitTimeout(defaultWaitTimeout)
	s.client.Disconnect(250)
}

func (s *Subscriber) subscribe(c paho.Client) error {
	token := c.Subscribe(s.topic, defaultQoS, s.handle)
	if !token.WaitTimeout(defaultWaitTimeout) {
		return errors.New("subscribe timed out")
	}
	return token.Error()
}

type replyPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

func (s *Subscriber) handle(c paho.Client, msg paho.Message) {
	s.handleMessage(c, msg)
}

func (s *Subscriber) handleMessage(c replyPublisher, msg paho.Message) {
	if strings.HasSuffix(msg.Topic(), "/ack") {
		return
	}
	ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
	defer cancel()
	reply := s.process(ctx, msg.Topic(), msg.Payload())
	s.publishReply(c, msg.Topic(), reply)
}

func (s *Subscriber) process(ctx context.Context, topic string, payload []byte) string {
	requestID := uuid.NewString()
	log := s.log.With(slog.String("request_id", requestID), slog.String("topic", topic))

	record, err := domain.ParseTelemetryRecord(payload)
	if err != nil {
		log.Info("mqtt_invalid_json", slog.Any("err", err))
		return replyInvalidJSON
	}
	res, err := s.ingest.Execute(ctx, usecase.IngestRequest{Record: record, Source: "mqtt", RequestID: requestID})
	if err != nil {
		return replyForError(err)
	}
	return res.Ack.Message
}

func (s *Subscriber) publishReply(c replyPublisher, topic, reply string) {
	ackTopic := AckTopic(topic)
	token := c.Publish(ackTopic, defaultQoS, false, []byte(reply))
	if !token.WaitTimeout(defaultWaitTimeout) {
		s.log.Error("mqtt_ack_timeout", slog.String("ack_topic", ackTopic))
		return
	}
	if err := token.Error(); err != nil {
		s.log.Error("mqtt_ack_failed", slog.String("ack_topic", ackTopic), slog.Any("err", err))
	}
}

func AckTopic(topic string) string {
	return strings.TrimSuffix(topic, "/") + "/ack"
}

type rejection interface {
	RejectionMessage() string
}

func replyForError(err error) string {
	var rej rejection
	if errors.As(err, &rej) {
		return rej.RejectionMessage()
	}
	if errors.Is(err, domain.ErrSigning) {
		return replySignError
	}
	return replyInternal
}
