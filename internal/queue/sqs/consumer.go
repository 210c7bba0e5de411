package sqsqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"notifgw/internal/domain"
)

// Pop long-polls for one message and deletes it on receipt. Processing is guarded by
// the batch marker, so redelivery is never relied upon.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*domain.QueueJob, error) {
	wait := int32(timeout / time.Second)
	if wait > 20 {
		wait = 20
	}
	out, err := q.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.QueueURL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     wait,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	m := out.Messages[0]
	q.delete(ctx, m.ReceiptHandle)

	if m.Body == nil {
		return nil, nil
	}
	var job domain.QueueJob
	if err := json.Unmarshal([]byte(*m.Body), &job); err != nil {
		slog.Error("discarding undecodable sqs payload", "err", err)
		return nil, nil
	}
	return &job, nil
}

func (q *Queue) delete(ctx context.Context, receipt *string) {
	_, err := q.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &q.QueueURL,
		ReceiptHandle: receipt,
	})
	if err != nil {
		slog.Warn("sqs delete message failed", "err", err)
	}
}
