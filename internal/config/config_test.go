package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.HTTPAddr != "127.0.0.1:8081" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.BackendIngestURL() != "http://localhost:8001/sensor_ingest" {
		t.Fatalf("unexpected backend url: %s", cfg.BackendIngestURL())
	}
	if cfg.ForwardRetryAttempts != 1 {
		t.Fatalf("expected a single forward attempt by default, got %d", cfg.ForwardRetryAttempts)
	}
	if cfg.AckMode != AckModeSigned {
		t.Fatalf("unexpected ack mode: %s", cfg.AckMode)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	body := "http_addr: 0.0.0.0:9000\nforward_mode: kafka\nkafka_brokers: a:9092, b:9092\noutbox_dir: /var/lib/outbox\nrate_limit_requests: 30\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", "127.0.0.1:7000")
	t.Setenv("FORWARD_TIMEOUT_SECONDS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:7000" {
		t.Fatalf("env should override file, got %s", cfg.HTTPAddr)
	}
	if cfg.ForwardMode != ForwardModeKafka {
		t.Fatalf("unexpected forward mode: %s", cfg.ForwardMode)
	}
	brokers := cfg.KafkaBrokerList()
	if len(brokers) != 2 || brokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", brokers)
	}
	if cfg.ForwardTimeout() != 3*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.ForwardTimeout())
	}
	if cfg.RateLimitRequests != 30 || cfg.RateLimitWindowSeconds != 60 {
		t.Fatalf("unexpected rate limit config: %d/%d", cfg.RateLimitRequests, cfg.RateLimitWindowSeconds)
	}
	if cfg.OutboxBatchSize != 100 {
		t.Fatalf("file should keep defaults for unset keys, got %d", cfg.OutboxBatchSize)
	}
}

func TestLoadRejectsInvalidCombination(t *testing.T) {
	t.Setenv("FORWARD_MODE", "nats")
	t.Setenv("ACK_MODE", "sometimes")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "nats_url") || !strings.Contains(msg, "ack_mode") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestEnvIntDefaultIgnoresGarbage(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "lots")
	if got := FromEnv().OutboxBatchSize; got != 100 {
		t.Fatalf("expected default for unparsable value, got %d", got)
	}
}

func TestRejectionStatusCode(t *testing.T) {
	if got := FromEnv().RejectionStatusCode; got != 200 {
		t.Fatalf("rejections should default to 200, got %d", got)
	}
	t.Setenv("REJECTION_STATUS_CODE", "422")
	cfg, err := Load()
	if err != nil || cfg.RejectionStatusCode != 422 {
		t.Fatalf("expected 422 opt-in, got %d %v", cfg.RejectionStatusCode, err)
	}
	t.Setenv("REJECTION_STATUS_CODE", "400")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "rejection_status_code") {
		t.Fatalf("expected rejection_status_code error, got %v", err)
	}
}
