package intake

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/programme-lv/runner/api"
	"github.com/programme-lv/runner/internal/pool"
)

type sqsClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ServeSqs long-polls queueUrl for submission requests until ctx is done.
// A message is deleted once it is accepted or found malformed. Messages
// that hit a full pool stay in the queue and come back after their
// visibility timeout.
func (in *Intake) ServeSqs(ctx context.Context, client sqsClient, queueUrl string) error {
	in.log.Info("polling sqs for submissions", "queue", queueUrl)
	for {
		output, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueUrl),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			in.log.Warn("failed to receive messages", "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, message := range output.Messages {
			if !in.handleSqsMsg(ctx, message) {
				continue
			}
			_, err = client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(queueUrl),
				ReceiptHandle: message.ReceiptHandle,
			})
			if err != nil {
				in.log.Warn("failed to delete message", "error", err)
			}
		}
	}
}

// handleSqsMsg reports whether the message should be deleted.
func (in *Intake) handleSqsMsg(ctx context.Context, message types.Message) bool {
	if message.Body == nil {
		return true
	}
	var req api.SubmitReq
	if err := json.Unmarshal([]byte(*message.Body), &req); err != nil {
		in.log.Warn("failed to unmarshal message", "error", err)
		return true
	}
	_, err := in.Accept(ctx, req)
	if errors.Is(err, pool.ErrQueueFull) {
		return false
	}
	if err != nil {
		in.log.Warn("rejected submission", "error", err)
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
