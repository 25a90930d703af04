package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when Receive is called after the consumer has been
// closed.
var ErrClosed = errors.New("consumer closed")

type ConsumerConfig struct {
	WaitTimeSeconds int32
	MaxMessages     int32
	VisibilityTO    int32
}

func (c *ConsumerConfig) validate() error {
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		return errors.New("wait time seconds must be between 0 and 20")
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		return errors.New("max messages must be between 1 and 10")
	}
	if c.VisibilityTO < 0 {
		return errors.New("visibility timeout must be non-negative")
	}
	return nil
}

var DefaultConsumerConfig = ConsumerConfig{
	WaitTimeSeconds: 20,
	MaxMessages:     10,
	VisibilityTO:    60,
}

// Consumer long-polls one queue and hands batches to a handler. Messages
// the handler reports as failed are not deleted; the queue redelivers
// exactly those after their visibility timeout expires.
type Consumer struct {
	cfg ConsumerConfig

	client      API
	queueURL    string
	queueURLPtr *string
	log         zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func NewConsumer(client API, queueURL string, cfg ConsumerConfig, log zerolog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, errors.New("queue url is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Consumer{
		cfg:      cfg,
		client:   client,
		queueURL: queueURL,
		log:      log,
		closed:   make(chan struct{}),
	}
	c.queueURLPtr = &c.queueURL
	return c, nil
}

func (c *Consumer) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Receive blocks until one batch of messages arrives, the context is
// cancelled, or the consumer is closed. An empty poll returns an empty
// slice, not an error.
func (c *Consumer) Receive(ctx context.Context) ([]Message, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            c.queueURLPtr,
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
		VisibilityTimeout:   c.cfg.VisibilityTO,
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for i := range out.Messages {
		m := &out.Messages[i]
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			receiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Handler processes one delivered batch and returns the IDs of messages
// that must be redelivered.
type Handler func(ctx context.Context, msgs []Message) (failedIDs []string)

// Run polls until the context is cancelled or the consumer is closed,
// acknowledging every message the handler did not mark failed.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-c.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := c.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("poll failed")
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		failed := handle(ctx, msgs)
		if err := c.Acknowledge(ctx, msgs, failed); err != nil {
			c.log.Error().Err(err).Msg("acknowledge failed; batch will be redelivered")
		}
	}
}

// Acknowledge deletes every message not listed in failedIDs, in chunks of
// at most 10 (the DeleteMessageBatch ceiling).
func (c *Consumer) Acknowledge(ctx context.Context, msgs []Message, failedIDs []string) error {
	failed := make(map[string]struct{}, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = struct{}{}
	}

	keep := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if _, skip := failed[m.ID]; !skip {
			keep = append(keep, m)
		}
	}
	if len(keep) == 0 {
		return nil
	}

	const max = 10
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, max)
	in := sqs.DeleteMessageBatchInput{QueueUrl: c.queueURLPtr}

	for i := 0; i < len(keep); i += max {
		end := i + max
		if end > len(keep) {
			end = len(keep)
		}

		entries = entries[:0]
		for j := i; j < end; j++ {
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            &keep[j].ID,
				ReceiptHandle: &keep[j].receiptHandle,
			})
		}

		in.Entries = entries
		out, err := c.client.DeleteMessageBatch(ctx, &in)
		if err != nil {
			return err
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs delete failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}
