package forward

import (
	"fmt"
	"net/http"

	"github.com/mateusicomp/aqua-monitor/internal/config"
)

// FromConfig builds the configured transport wrapped in the retry policy.
func FromConfig(cfg config.Config) (*Retrying, error) {
	var next Forwarder
	switch cfg.ForwardMode {
	case config.ForwardModeHTTP, "":
		next = NewHTTPForwarder(cfg.BackendIngestURL(), WithHTTPClient(&http.Client{}))
	case config.ForwardModeKafka:
		f, err := NewKafkaForwarder(KafkaConfig{
			Brokers:      cfg.KafkaBrokerList(),
			Topic:        cfg.KafkaTopic,
			WriteTimeout: cfg.ForwardTimeout(),
		})
		if err != nil {
			return nil, err
		}
		next = f
	case config.ForwardModeNATS:
		f, err := NewNATSForwarder(NATSConfig{
			URL:     cfg.NATSURL,
			Subject: cfg.NATSSubject,
			Name:    "sensor-gateway",
			Timeout: cfg.ForwardTimeout(),
		})
		if err != nil {
			return nil, err
		}
		next = f
	default:
		return nil, fmt.Errorf("unsupported forward mode %q", cfg.ForwardMode)
	}
	return NewRetrying(next, RetryOptions{
		Attempts:          cfg.ForwardRetryAttempts,
		BaseDelay:         cfg.ForwardRetryBaseDelay(),
		MaxDelay:          cfg.ForwardRetryMaxDelay(),
		PerAttemptTimeout: cfg.ForwardTimeout(),
	}), nil
}
