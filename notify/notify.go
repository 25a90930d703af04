// Package notify publishes applied-entity announcements to an SNS topic.
// Callers treat it as fire-and-forget: a failed publish is logged upstream,
// never propagated into the message-redelivery path.
package notify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/baldanca/catalog-ingestor/catalog"
)

// API is the slice of the SNS client the notifier depends on.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Notifier struct {
	client   API
	topicARN string
}

func New(client API, topicARN string) *Notifier {
	if client == nil {
		panic("sns client is required")
	}
	if strings.TrimSpace(topicARN) == "" {
		panic("topic arn is required")
	}
	return &Notifier{client: client, topicARN: topicARN}
}

// EntityApplied announces a successfully applied catalog entity. Message
// attributes carry the rounded price and a keyword string so subscriptions
// can filter.
func (n *Notifier) EntityApplied(ctx context.Context, e catalog.Entity) error {
	subject := fmt.Sprintf("Catalog update: %s", e.Title)
	message := fmt.Sprintf(
		"A catalog entity has been applied:\n- Title: %s\n- Price: $%s\n- Description: %s\n",
		e.Title, formatPrice(e.Price), e.Description,
	)

	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &n.topicARN,
		Subject:  &subject,
		Message:  &message,
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"price": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(fmt.Sprintf("%d", int64(math.Round(e.Price)))),
			},
			"keywords": {
				DataType:    aws.String("String"),
				StringValue: aws.String(e.Title + " " + e.Description),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("publish notification title=%q: %w", e.Title, err)
	}
	return nil
}

func formatPrice(p float64) string {
	return fmt.Sprintf("%.2f", p)
}
