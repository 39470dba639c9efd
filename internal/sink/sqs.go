package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/programme-lv/runner/api"
)

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Sqs sends results to a response queue.
type Sqs struct {
	client   sqsSender
	queueUrl string
}

func NewSqs(client *sqs.Client, queueUrl string) *Sqs {
	return &Sqs{client: client, queueUrl: queueUrl}
}

func (s *Sqs) Persist(ctx context.Context, res api.Result) error {
	b, err := json.Marshal(res.TrimForMessage())
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueUrl),
		MessageBody: aws.String(string(b)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
