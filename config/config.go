// Package config loads conveyor settings from a YAML file, a .env file and
// the process environment, and turns them into conveyor options and AWS
// configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/erfanmomeniii/conveyor"
	"github.com/erfanmomeniii/conveyor/firehose"
	"github.com/erfanmomeniii/conveyor/kafka"
	"github.com/erfanmomeniii/conveyor/kinesis"
	"github.com/erfanmomeniii/conveyor/redisstream"
	"github.com/erfanmomeniii/conveyor/sqs"
)

// Supported backends.
const (
	BackendKinesis  = "kinesis"
	BackendSQS      = "sqs"
	BackendFirehose = "firehose"
	BackendKafka    = "kafka"
	BackendRedis    = "redis"
)

// Default returns a configuration with conveyor's defaults.
func Default() *Config {
	b := conveyor.DefaultBackoff()
	return &Config{
		Backend: BackendKinesis,
		Retry: RetryConfig{
			MaxAttempts: conveyor.DefaultMaxAttempts,
			BaseDelay:   Duration(b.BaseDelay),
			MaxDelay:    Duration(b.MaxDelay),
		},
		Wait: WaitConfig{
			Timeout:      Duration(5 * time.Minute),
			PollInterval: Duration(time.Second),
		},
		Producer: ProducerConfig{
			Workers:       1,
			BufferSize:    100,
			FlushInterval: Duration(time.Second),
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path,
// then variables from envFile, then the process environment. Empty path
// or envFile skip that source. A missing envFile is not an error.
//
// Variables are only read; the process environment is never modified.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	vars := map[string]string{}
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: reading %s: %w", envFile, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// envVar binds an environment variable to a config field.
type envVar struct {
	key string
	set func(c *Config, v string) error
}

func str(field func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func dur(field func(c *Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func num(field func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer value: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func float(field func(c *Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid number: %q", v)
		}
		*field(c) = f
		return nil
	}
}

func size(field func(c *Config) *SizeBytes) func(*Config, string) error {
	return func(c *Config, v string) error {
		s, err := parseSize(v)
		if err != nil {
			return err
		}
		*field(c) = s
		return nil
	}
}

var envVars = []envVar{
	{"CONVEYOR_BACKEND", str(func(c *Config) *string { return &c.Backend })},
	{"CONVEYOR_TARGET", str(func(c *Config) *string { return &c.Target })},
	{"CONVEYOR_MAX_ENTRY_BYTES", size(func(c *Config) *SizeBytes { return &c.Limits.MaxEntryBytes })},
	{"CONVEYOR_MAX_BATCH_BYTES", size(func(c *Config) *SizeBytes { return &c.Limits.MaxBatchBytes })},
	{"CONVEYOR_MAX_ENTRIES", num(func(c *Config) *int { return &c.Limits.MaxEntries })},
	{"CONVEYOR_MAX_ATTEMPTS", num(func(c *Config) *int { return &c.Retry.MaxAttempts })},
	{"CONVEYOR_BASE_DELAY", dur(func(c *Config) *Duration { return &c.Retry.BaseDelay })},
	{"CONVEYOR_MAX_DELAY", dur(func(c *Config) *Duration { return &c.Retry.MaxDelay })},
	{"CONVEYOR_MAX_ELAPSED", dur(func(c *Config) *Duration { return &c.Retry.MaxElapsed })},
	{"CONVEYOR_CALL_TIMEOUT", dur(func(c *Config) *Duration { return &c.Retry.CallTimeout })},
	{"CONVEYOR_WAIT_TIMEOUT", dur(func(c *Config) *Duration { return &c.Wait.Timeout })},
	{"CONVEYOR_POLL_INTERVAL", dur(func(c *Config) *Duration { return &c.Wait.PollInterval })},
	{"CONVEYOR_WORKERS", num(func(c *Config) *int { return &c.Producer.Workers })},
	{"CONVEYOR_RATE_LIMIT", float(func(c *Config) *float64 { return &c.Producer.RateLimit })},
	{"CONVEYOR_FLUSH_INTERVAL", dur(func(c *Config) *Duration { return &c.Producer.FlushInterval })},
	{"CONVEYOR_LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"CONVEYOR_REDIS_ADDR", str(func(c *Config) *string { return &c.Redis.Addr })},
	{"CONVEYOR_REDIS_PASSWORD", str(func(c *Config) *string { return &c.Redis.Password })},
	{"CONVEYOR_ATHENA_DATABASE", str(func(c *Config) *string { return &c.Athena.Database })},
	{"CONVEYOR_ATHENA_WORKGROUP", str(func(c *Config) *string { return &c.Athena.WorkGroup })},
	{"CONVEYOR_ATHENA_OUTPUT_LOCATION", str(func(c *Config) *string { return &c.Athena.OutputLocation })},
	{"CONVEYOR_KAFKA_BROKERS", func(c *Config, v string) error {
		c.Kafka.Brokers = splitList(v)
		return nil
	}},
	{"AWS_REGION", str(func(c *Config) *string { return &c.AWS.Region })},
	{"AWS_PROFILE", str(func(c *Config) *string { return &c.AWS.Profile })},
	{"AWS_ENDPOINT_URL", str(func(c *Config) *string { return &c.AWS.Endpoint })},
	{"AWS_ACCESS_KEY_ID", str(func(c *Config) *string { return &c.AWS.AccessKeyID })},
	{"AWS_SECRET_ACCESS_KEY", str(func(c *Config) *string { return &c.AWS.SecretAccessKey })},
	{"AWS_SESSION_TOKEN", str(func(c *Config) *string { return &c.AWS.SessionToken })},
}

// ApplyEnv overrides fields from variables found by lookup. Empty values
// are ignored.
func (c *Config) ApplyEnv(lookup func(key string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.key)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return fmt.Errorf("config: %s: %w", ev.key, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var parts []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendKinesis, BackendSQS, BackendFirehose, BackendKafka, BackendRedis:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Backend == BackendKafka && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka backend needs at least one broker")
	}
	if c.Limits.MaxEntryBytes < 0 || c.Limits.MaxBatchBytes < 0 || c.Limits.MaxEntries < 0 {
		return errors.New("config: limits cannot be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("config: retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 || c.Retry.MaxElapsed < 0 || c.Retry.CallTimeout < 0 {
		return errors.New("config: retry durations cannot be negative")
	}
	if c.Wait.Timeout < 0 {
		return errors.New("config: wait.timeout cannot be negative")
	}
	if c.Wait.PollInterval <= 0 {
		return errors.New("config: wait.poll_interval must be positive")
	}
	if c.Producer.Workers <= 0 || c.Producer.BufferSize <= 0 || c.Producer.FlushInterval <= 0 {
		return errors.New("config: producer settings must be positive")
	}
	if c.Producer.RateLimit < 0 {
		return errors.New("config: producer.rate_limit cannot be negative")
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return errors.New("config: aws access key id and secret access key must be set together")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// Limits returns the limits of the configured backend with any overrides
// applied.
func (c *Config) Limits() conveyor.Limits {
	var l conveyor.Limits
	switch c.Backend {
	case BackendSQS:
		l = sqs.Limits
	case BackendFirehose:
		l = firehose.Limits
	case BackendKafka:
		l = kafka.Limits
	case BackendRedis:
		l = redisstream.Limits
	default:
		l = kinesis.Limits
	}
	if c.Limits.MaxEntryBytes > 0 {
		l.MaxEntryBytes = c.Limits.MaxEntryBytes.Int()
	}
	if c.Limits.MaxBatchBytes > 0 {
		l.MaxBatchBytes = c.Limits.MaxBatchBytes.Int()
	}
	if c.Limits.MaxEntries > 0 {
		l.MaxEntries = c.Limits.MaxEntries
	}
	return l
}

// Keyed reports whether the backend needs a distribution key on every
// entry.
func (c *Config) Keyed() bool {
	return c.Backend == BackendKinesis || (c.Backend == BackendSQS && sqs.IsFIFO(c.Target))
}

// SubmitOptions returns Submitter options for the retry settings.
func (c *Config) SubmitOptions() []conveyor.SubmitOption {
	opts := []conveyor.SubmitOption{
		conveyor.WithMaxAttempts(c.Retry.MaxAttempts),
		conveyor.WithBackoff(conveyor.Backoff{
			BaseDelay: c.Retry.BaseDelay.Duration(),
			MaxDelay:  c.Retry.MaxDelay.Duration(),
		}),
		conveyor.WithLimits(c.Limits()),
	}
	if c.Retry.MaxElapsed > 0 {
		opts = append(opts, conveyor.WithMaxElapsed(c.Retry.MaxElapsed.Duration()))
	}
	return opts
}

// ProducerOptions returns Producer options for the producer settings.
func (c *Config) ProducerOptions() []conveyor.ProducerOption {
	opts := []conveyor.ProducerOption{
		conveyor.WithWorkers(c.Producer.Workers),
		conveyor.WithBufferSize(c.Producer.BufferSize),
		conveyor.WithFlushInterval(c.Producer.FlushInterval.Duration()),
	}
	if !c.Keyed() {
		opts = append(opts, conveyor.WithProducerKeys(nil))
	}
	return opts
}

// Validators returns the entry checks the configured backend needs before
// submission: FIFO queues need a group key and a deduplication id, SQS
// caps the delay and Kinesis needs a partition key.
func (c *Config) Validators() []conveyor.Validator {
	var vs []conveyor.Validator
	if c.Keyed() {
		vs = append(vs, conveyor.RequireKey())
	}
	if c.Backend == BackendSQS {
		vs = append(vs, conveyor.MaxDelay(sqs.MaxDelay))
		if sqs.IsFIFO(c.Target) {
			vs = append(vs, conveyor.RequireDedupID())
		}
	}
	return vs
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", c.Logging.Level)
	}
	return l, nil
}

// AWS returns an aws.Config for the AWS settings. Static credentials are
// used only when both keys are set; otherwise the SDK's default chain
// applies.
func (c *Config) AWS(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.AWS.Region))
	}
	if c.AWS.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.AWS.Profile))
	}
	if c.AWS.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(c.AWS.Endpoint))
	}
	if c.AWS.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AWS.AccessKeyID, c.AWS.SecretAccessKey, c.AWS.SessionToken),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("config: loading aws config: %w", err)
	}
	return cfg, nil
}
