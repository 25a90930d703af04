// Package queue carries catalog-change messages between the ingest
// dispatcher and the batch processor over SQS.
package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// BatchSize caps how many entries travel in one outbound batch request.
const BatchSize = 5

// API is the slice of the SQS client the publisher and consumer depend on.
type API interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Message is one delivered queue message. ReceiptHandle stays private to
// the package; consumers acknowledge through the Consumer, not directly.
type Message struct {
	ID   string
	Body string

	receiptHandle string
}
