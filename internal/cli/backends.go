package cli

import (
	"context"
	"fmt"
	"time"

	awsfirehose "github.com/aws/aws-sdk-go-v2/service/firehose"
	awskinesis "github.com/aws/aws-sdk-go-v2/service/kinesis"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/erfanmomeniii/conveyor"
	"github.com/erfanmomeniii/conveyor/config"
	"github.com/erfanmomeniii/conveyor/firehose"
	"github.com/erfanmomeniii/conveyor/kafka"
	"github.com/erfanmomeniii/conveyor/kinesis"
	"github.com/erfanmomeniii/conveyor/redisstream"
	"github.com/erfanmomeniii/conveyor/sqs"
)

func nop() error { return nil }

func newBackend(ctx context.Context, cfg *config.Config) (conveyor.Backend, func() error, error) {
	if cfg.Target == "" {
		return nil, nil, fmt.Errorf("no target configured for %s backend", cfg.Backend)
	}

	switch cfg.Backend {
	case config.BackendKafka:
		w := &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Target,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
			BatchSize:    cfg.Limits().MaxEntries,
			BatchTimeout: 10 * time.Millisecond,
		}
		return kafka.NewBackend(w), w.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var opts []redisstream.Option
		if cfg.Redis.MaxLen > 0 {
			opts = append(opts, redisstream.WithMaxLen(cfg.Redis.MaxLen))
		}
		return redisstream.NewBackend(client, cfg.Target, opts...), client.Close, nil
	}

	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Backend {
	case config.BackendSQS:
		return sqs.NewBackend(awssqs.NewFromConfig(awsCfg), cfg.Target), nop, nil
	case config.BackendFirehose:
		return firehose.NewBackend(awsfirehose.NewFromConfig(awsCfg), cfg.Target, firehose.WithDelimiter("\n")), nop, nil
	default:
		return kinesis.NewBackend(awskinesis.NewFromConfig(awsCfg), cfg.Target), nop, nil
	}
}
