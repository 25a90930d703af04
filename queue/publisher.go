package queue

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// maxInFlightBatches bounds concurrent SendMessageBatch requests per call.
const maxInFlightBatches = 4

// Entry is one outbound message: a caller-chosen batch-entry ID and a
// serialized body.
type Entry struct {
	ID   string
	Body string
}

// BatchResult aggregates per-entry outcomes across all batch requests sent
// for one call.
type BatchResult struct {
	Successful []string
	Failed     []string
}

// Publisher sends entries to one queue in batches of at most BatchSize.
type Publisher struct {
	client      API
	queueURL    string
	queueURLPtr *string
	log         zerolog.Logger
}

func NewPublisher(client API, queueURL string, log zerolog.Logger) *Publisher {
	if client == nil {
		panic("sqs client is required")
	}
	if strings.TrimSpace(queueURL) == "" {
		panic("queue url is required")
	}

	p := &Publisher{
		client:   client,
		queueURL: queueURL,
		log:      log,
	}
	p.queueURLPtr = &p.queueURL
	return p
}

// SendEntries publishes entries in chunks of BatchSize, issuing the batch
// requests concurrently and aggregating per-entry outcomes. A failed batch
// request marks all of its entries failed and is logged, but does not stop
// the remaining chunks: publishing is best effort, per entry.
func (p *Publisher) SendEntries(ctx context.Context, entries []Entry) (BatchResult, error) {
	var res BatchResult
	if len(entries) == 0 {
		return res, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(maxInFlightBatches)

	for i := 0; i < len(entries); i += BatchSize {
		end := i + BatchSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[i:end]

		g.Go(func() error {
			batchEntries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(chunk))
			for j := range chunk {
				batchEntries = append(batchEntries, sqstypes.SendMessageBatchRequestEntry{
					Id:          &chunk[j].ID,
					MessageBody: &chunk[j].Body,
				})
			}

			out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
				QueueUrl: p.queueURLPtr,
				Entries:  batchEntries,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.log.Error().Err(err).Int("entries", len(chunk)).Msg("send batch failed")
				for j := range chunk {
					res.Failed = append(res.Failed, chunk[j].ID)
				}
				return nil
			}
			for _, s := range out.Successful {
				res.Successful = append(res.Successful, aws.ToString(s.Id))
			}
			for _, f := range out.Failed {
				p.log.Error().
					Str("id", aws.ToString(f.Id)).
					Str("code", aws.ToString(f.Code)).
					Str("message", aws.ToString(f.Message)).
					Msg("batch entry rejected")
				res.Failed = append(res.Failed, aws.ToString(f.Id))
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(res.Failed) > 0 {
		p.log.Warn().
			Int("successful", len(res.Successful)).
			Int("failed", len(res.Failed)).
			Msg("partial batch publish")
	}
	return res, nil
}
