package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ForwardModeHTTP  = "http"
	ForwardModeKafka = "kafka"
	ForwardModeNATS  = "nats"

	AckModeSigned    = "signed"
	AckModeDelivered = "delivered"
)

type Config struct {
	HTTPAddr     string `yaml:"http_addr"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	MaxBodyBytes int    `yaml:"max_body_bytes"`

	SigningKeyPath           string `yaml:"signing_key_path"`
	SigningKeyMasterSecret   string `yaml:"-"`
	SigningPrivateKeyBase64  string `yaml:"-"`
	SigningPrivateKeySeedHex string `yaml:"-"`

	BackendURL              string `yaml:"backend_url"`
	BackendIngestPath       string `yaml:"backend_ingest_path"`
	ForwardMode             string `yaml:"forward_mode"`
	ForwardTimeoutSeconds   int    `yaml:"forward_timeout_seconds"`
	ForwardRetryAttempts    int    `yaml:"forward_retry_attempts"`
	ForwardRetryBaseDelayMS int    `yaml:"forward_retry_base_delay_ms"`
	ForwardRetryMaxDelayMS  int    `yaml:"forward_retry_max_delay_ms"`
	AckMode                 string `yaml:"ack_mode"`
	RejectionStatusCode     int    `yaml:"rejection_status_code"`

	KafkaBrokers string `yaml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic"`
	NATSURL      string `yaml:"nats_url"`
	NATSSubject  string `yaml:"nats_subject"`

	OutboxDir             string `yaml:"outbox_dir"`
	OutboxIntervalSeconds int    `yaml:"outbox_interval_seconds"`
	OutboxMaxAttempts     int    `yaml:"outbox_max_attempts"`
	OutboxBatchSize       int    `yaml:"outbox_batch_size"`

	PostgresDSN string `yaml:"postgres_dsn"`

	RateLimitRequests      int  `yaml:"rate_limit_requests"`
	RateLimitWindowSeconds int  `yaml:"rate_limit_window_seconds"`
	RateLimitMaxKeys       int  `yaml:"rate_limit_max_keys"`
	RateLimitFailClosed    bool `yaml:"rate_limit_fail_closed"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`

	IngestPolicyPath string `yaml:"ingest_policy_path"`

	MQTTBrokerURL string `yaml:"mqtt_broker_url"`
	MQTTTopic     string `yaml:"mqtt_topic"`
	MQTTClientID  string `yaml:"mqtt_client_id"`
	MQTTUsername  string `yaml:"mqtt_username"`
	MQTTPassword  string `yaml:"-"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:                "127.0.0.1:8081",
		LogLevel:                "info",
		LogFormat:               "json",
		MaxBodyBytes:            1 << 20,
		SigningKeyPath:          "./data/signing_key.json",
		BackendURL:              "http://localhost:8001",
		BackendIngestPath:       "/sensor_ingest",
		ForwardMode:             ForwardModeHTTP,
		ForwardTimeoutSeconds:   10,
		ForwardRetryAttempts:    1,
		ForwardRetryBaseDelayMS: 200,
		ForwardRetryMaxDelayMS:  2000,
		AckMode:                 AckModeSigned,
		RejectionStatusCode:     200,
		KafkaTopic:              "sensor.envelopes",
		NATSSubject:             "sensor.envelopes",
		OutboxIntervalSeconds:   15,
		OutboxBatchSize:         100,
		RateLimitWindowSeconds:  60,
		RateLimitMaxKeys:        10000,
		MQTTTopic:               "devices/+/telemetry",
		MQTTClientID:            "sensor-gateway",
	}
}

// FromEnv returns the defaults overridden by the environment.
func FromEnv() Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// Load reads CONFIG_FILE (when set) over the defaults, applies the
// environment on top and validates the result.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envDefault("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = envDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envDefault("LOG_FORMAT", c.LogFormat)
	c.MaxBodyBytes = envIntDefault("MAX_BODY_BYTES", c.MaxBodyBytes)

	c.SigningKeyPath = envDefault("SIGNING_KEY_PATH", c.SigningKeyPath)
	c.SigningKeyMasterSecret = envDefault("SIGNING_KEY_MASTER_SECRET", c.SigningKeyMasterSecret)
	c.SigningPrivateKeyBase64 = envDefault("SIGNING_PRIVATE_KEY_BASE64", c.SigningPrivateKeyBase64)
	c.SigningPrivateKeySeedHex = envDefault("SIGNING_PRIVATE_KEY_SEED_HEX", c.SigningPrivateKeySeedHex)

	c.BackendURL = envDefault("BACKEND_URL", c.BackendURL)
	c.BackendIngestPath = envDefault("BACKEND_INGEST_PATH", c.BackendIngestPath)
	c.ForwardMode = strings.ToLower(envDefault("FORWARD_MODE", c.ForwardMode))
	c.ForwardTimeoutSeconds = envIntDefault("FORWARD_TIMEOUT_SECONDS", c.ForwardTimeoutSeconds)
	c.ForwardRetryAttempts = envIntDefault("FORWARD_RETRY_ATTEMPTS", c.ForwardRetryAttempts)
	c.ForwardRetryBaseDelayMS = envIntDefault("FORWARD_RETRY_BASE_DELAY_MS", c.ForwardRetryBaseDelayMS)
	c.ForwardRetryMaxDelayMS = envIntDefault("FORWARD_RETRY_MAX_DELAY_MS", c.ForwardRetryMaxDelayMS)
	c.AckMode = strings.ToLower(envDefault("ACK_MODE", c.AckMode))
	c.RejectionStatusCode = envIntDefault("REJECTION_STATUS_CODE", c.RejectionStatusCode)

	c.KafkaBrokers = envDefault("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = envDefault("KAFKA_TOPIC", c.KafkaTopic)
	c.NATSURL = envDefault("NATS_URL", c.NATSURL)
	c.NATSSubject = envDefault("NATS_SUBJECT", c.NATSSubject)

	c.OutboxDir = envDefault("OUTBOX_DIR", c.OutboxDir)
	c.OutboxIntervalSeconds = envIntDefault("OUTBOX_INTERVAL_SECONDS", c.OutboxIntervalSeconds)
	c.OutboxMaxAttempts = envIntDefault("OUTBOX_MAX_ATTEMPTS", c.OutboxMaxAttempts)
	c.OutboxBatchSize = envIntDefault("OUTBOX_BATCH_SIZE", c.OutboxBatchSize)

	c.PostgresDSN = envDefault("POSTGRES_DSN", c.PostgresDSN)

	c.RateLimitRequests = envIntDefault("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindowSeconds = envIntDefault("RATE_LIMIT_WINDOW_SECONDS", c.RateLimitWindowSeconds)
	c.RateLimitMaxKeys = envIntDefault("RATE_LIMIT_MAX_KEYS", c.RateLimitMaxKeys)
	c.RateLimitFailClosed = envBoolDefault("RATE_LIMIT_FAIL_CLOSED", c.RateLimitFailClosed)

	c.RedisAddr = envDefault("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envDefault("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envIntDefault("REDIS_DB", c.RedisDB)

	c.IngestPolicyPath = envDefault("INGEST_POLICY_PATH", c.IngestPolicyPath)

	c.MQTTBrokerURL = envDefault("MQTT_BROKER_URL", c.MQTTBrokerURL)
	c.MQTTTopic = envDefault("MQTT_TOPIC", c.MQTTTopic)
	c.MQTTClientID = envDefault("MQTT_CLIENT_ID", c.MQTTClientID)
	c.MQTTUsername = envDefault("MQTT_USERNAME", c.MQTTUsername)
	c.MQTTPassword = envDefault("MQTT_PASSWORD", c.MQTTPassword)
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or text, got %q", c.LogFormat))
	}
	switch c.ForwardMode {
	case ForwardModeHTTP:
		u, err := url.Parse(c.BackendURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend_url must be an absolute URL, got %q", c.BackendURL))
		}
	case ForwardModeKafka:
		if len(c.KafkaBrokerList()) == 0 {
			errs = append(errs, errors.New("kafka_brokers is required when forward_mode is kafka"))
		}
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("kafka_topic is required when forward_mode is kafka"))
		}
	case ForwardModeNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("nats_url is required when forward_mode is nats"))
		}
		if c.NATSSubject == "" {
			errs = append(errs, errors.New("nats_subject is required when forward_mode is nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported forward_mode %q", c.ForwardMode))
	}
	switch c.AckMode {
	case AckModeSigned, AckModeDelivered:
	default:
		errs = append(errs, fmt.Errorf("unsupported ack_mode %q", c.AckMode))
	}
	switch c.RejectionStatusCode {
	case 200, 422:
	default:
		errs = append(errs, fmt.Errorf("rejection_status_code must be 200 or 422, got %d", c.RejectionStatusCode))
	}
	if c.ForwardRetryAttempts < 1 {
		errs = append(errs, errors.New("forward_retry_attempts must be at least 1"))
	}
	if c.OutboxDir != "" && c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox_batch_size must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) KafkaBrokerList() []string {
	var out []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

func (c Config) BackendIngestURL() string {
	path := c.BackendIngestPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(c.BackendURL, "/") + path
}

func (c Config) ForwardTimeout() time.Duration {
	return time.Duration(c.ForwardTimeoutSeconds) * time.Second
}

func (c Config) ForwardRetryBaseDelay() time.Duration {
	return time.Duration(c.ForwardRetryBaseDelayMS) * time.Millisecond
}

func (c Config) ForwardRetryMaxDelay() time.Duration {
	return time.Duration(c.ForwardRetryMaxDelayMS) * time.Millisecond
}

func (c Config) OutboxInterval() time.Duration {
	return time.Duration(c.OutboxIntervalSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
