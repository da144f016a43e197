package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaWriteCloser interface {
	Close() error
}

// KafkaForwarder publishes envelopes keyed by device so a device's records
// keep their order within a partition.
type KafkaForwarder struct {
	topic  string
	writer kafkaMessageWriter
	closer kafkaWriteCloser
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

func NewKafkaForwarder(cfg KafkaConfig) (*KafkaForwarder, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	if cfg.WriteTimeout > 0 {
		writer.WriteTimeout = cfg.WriteTimeout
	}
	return newKafkaForwarderWithWriter(cfg.Topic, writer, writer), nil
}

func newKafkaForwarderWithWriter(topic string, writer kafkaMessageWriter, closer kafkaWriteCloser) *KafkaForwarder {
	return &KafkaForwarder{topic: topic, writer: writer, closer: closer}
}

func (f *KafkaForwarder) Target() string { return "kafka://" + f.topic }

func (f *KafkaForwarder) Forward(ctx context.Context, env domain.SignedEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return &domain.ForwardError{Target: f.Target(), Err: fmt.Errorf("marshal envelope: %w", err)}
	}
	msg := kafka.Message{
		Key:   []byte(env.Payload().DeviceID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "envelope_id", Value: []byte(env.ID())},
			{Key: "kid", Value: []byte(env.KeyID())},
			{Key: "alg", Value: []byte(env.Alg())},
		},
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return &domain.ForwardError{Target: f.Target(), Err: err}
	}
	return nil
}

func (f *KafkaForwarder) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
