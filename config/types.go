package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the conveyor CLI configuration.
type Config struct {
	// Backend is one of kinesis, sqs, firehose, kafka or redis.
	Backend string `yaml:"backend"`

	// Target is the stream name, queue URL, delivery stream, topic or
	// Redis stream key, depending on Backend.
	Target string `yaml:"target"`

	Limits   LimitsConfig   `yaml:"limits"`
	Retry    RetryConfig    `yaml:"retry"`
	Wait     WaitConfig     `yaml:"wait"`
	Producer ProducerConfig `yaml:"producer"`
	AWS      AWSConfig      `yaml:"aws"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Athena   AthenaConfig   `yaml:"athena"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LimitsConfig overrides the backend's batch limits. Zero keeps the
// backend value.
type LimitsConfig struct {
	MaxEntryBytes SizeBytes `yaml:"max_entry_bytes"`
	MaxBatchBytes SizeBytes `yaml:"max_batch_bytes"`
	MaxEntries    int       `yaml:"max_entries"`
}

// RetryConfig controls resubmission of failed entries.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	MaxElapsed  Duration `yaml:"max_elapsed"`
	CallTimeout Duration `yaml:"call_timeout"`
}

// WaitConfig controls polling of asynchronous operations.
type WaitConfig struct {
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
}

// ProducerConfig controls the background producer.
type ProducerConfig struct {
	Workers       int      `yaml:"workers"`
	BufferSize    int      `yaml:"buffer_size"`
	FlushInterval Duration `yaml:"flush_interval"`

	// RateLimit caps entries per second sent to the backend. Zero means
	// no limit.
	RateLimit float64 `yaml:"rate_limit"`
}

// AWSConfig holds explicit AWS settings. Empty fields fall back to the
// SDK's default chain.
type AWSConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// KafkaConfig holds broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	MaxLen   int64  `yaml:"max_len"`
}

// AthenaConfig holds defaults for queries.
type AthenaConfig struct {
	Database       string `yaml:"database"`
	Catalog        string `yaml:"catalog"`
	WorkGroup      string `yaml:"workgroup"`
	OutputLocation string `yaml:"output_location"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes is a number of bytes, unmarshaled from strings like "256KiB"
// or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int() int { return int(s) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a time.Duration unmarshaled from strings like "100ms" or
// plain numbers of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
