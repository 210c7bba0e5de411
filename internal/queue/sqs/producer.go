// Package sqsqueue is the SQS-backed queue used when QUEUE_BACKEND=sqs.
package sqsqueue

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"notifgw/internal/domain"
	"notifgw/internal/observability"
)

// API is the subset of the SQS client the queue needs.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type Queue struct {
	SQS      API
	QueueURL string
	// FIFO queues need a group id; the batch id is used for both group and dedupe.
	FIFO bool
}

func (q *Queue) Push(ctx context.Context, job domain.QueueJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &q.QueueURL,
		MessageBody: str(string(body)),
	}
	if q.FIFO {
		id := strconv.FormatInt(job.BatchID, 10)
		in.MessageGroupId = str(id)
		in.MessageDeduplicationId = str(id)
	}
	if _, err := q.SQS.SendMessage(ctx, in); err != nil {
		observability.Enqueues.WithLabelValues("sqs", "error").Inc()
		return err
	}
	observability.Enqueues.WithLabelValues("sqs", "ok").Inc()
	return nil
}

func str(s string) *string { return &s }
