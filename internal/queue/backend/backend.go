// Package backend opens the configured queue implementation.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"

	"notifgw/internal/awsutil"
	"notifgw/internal/config"
	"notifgw/internal/queue"
	"notifgw/internal/queue/redisq"
	sqsqueue "notifgw/internal/queue/sqs"
)

// Opened is a queue plus the probe readiness uses for it.
type Opened struct {
	Queue queue.Queue
	Name  string
	Ready func(ctx context.Context) error
}

func Open(ctx context.Context, cfg config.QueueConfig, rdb redis.Cmdable, redisKey string) (Opened, error) {
	switch strings.ToLower(cfg.QueueBackend) {
	case "", "redis":
		return Opened{
			Queue: redisq.New(rdb, redisKey),
			Name:  "redis",
			Ready: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}, nil
	case "sqs":
		if cfg.SQSQueueURL == "" {
			return Opened{}, fmt.Errorf("SQS_QUEUE_URL is required for the sqs backend")
		}
		client, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			return Opened{}, fmt.Errorf("sqs client: %w", err)
		}
		url := cfg.SQSQueueURL
		return Opened{
			Queue: &sqsqueue.Queue{SQS: client, QueueURL: url, FIFO: strings.HasSuffix(url, ".fifo")},
			Name:  "sqs",
			Ready: func(ctx context.Context) error {
				_, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
					QueueUrl:       &url,
					AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
				})
				return err
			},
		}, nil
	default:
		return Opened{}, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}
