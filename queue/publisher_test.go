package queue

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

type fakeSQS struct {
	mu sync.Mutex

	sendInputs [][]sqstypes.SendMessageBatchRequestEntry
	sendErr    error
	failIDs    map[string]bool

	recvOut   *sqs.ReceiveMessageOutput
	delInputs [][]sqstypes.DeleteMessageBatchRequestEntry
}

func (f *fakeSQS) SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := append([]sqstypes.SendMessageBatchRequestEntry(nil), params.Entries...)
	f.sendInputs = append(f.sendInputs, entries)

	if f.sendErr != nil {
		return nil, f.sendErr
	}

	out := &sqs.SendMessageBatchOutput{}
	for _, e := range entries {
		id := aws.ToString(e.Id)
		if f.failIDs[id] {
			out.Failed = append(out.Failed, sqstypes.BatchResultErrorEntry{Id: e.Id, Code: aws.String("Throttled")})
		} else {
			out.Successful = append(out.Successful, sqstypes.SendMessageBatchResultEntry{Id: e.Id})
		}
	}
	return out, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.recvOut != nil {
		return f.recvOut, nil
	}
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := append([]sqstypes.DeleteMessageBatchRequestEntry(nil), params.Entries...)
	f.delInputs = append(f.delInputs, entries)
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func makeEntries(n int) []Entry {
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{ID: "e" + strconv.Itoa(i), Body: "{}"})
	}
	return entries
}

func TestPublisher_ChunksByBatchSize(t *testing.T) {
	f := &fakeSQS{}
	p := NewPublisher(f, "https://queue", zerolog.Nop())

	res, err := p.SendEntries(context.Background(), makeEntries(7))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Successful) != 7 || len(res.Failed) != 0 {
		t.Fatalf("successful=%d failed=%d want 7/0", len(res.Successful), len(res.Failed))
	}

	if len(f.sendInputs) != 2 {
		t.Fatalf("requests=%d want=2", len(f.sendInputs))
	}
	sizes := []int{len(f.sendInputs[0]), len(f.sendInputs[1])}
	sort.Ints(sizes)
	if sizes[0] != 2 || sizes[1] != 5 {
		t.Fatalf("chunk sizes=%v want [2 5]", sizes)
	}
}

func TestPublisher_PartialEntryFailureReported(t *testing.T) {
	f := &fakeSQS{failIDs: map[string]bool{"e3": true}}
	p := NewPublisher(f, "https://queue", zerolog.Nop())

	res, err := p.SendEntries(context.Background(), makeEntries(5))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Successful) != 4 {
		t.Fatalf("successful=%d want=4", len(res.Successful))
	}
	if len(res.Failed) != 1 || res.Failed[0] != "e3" {
		t.Fatalf("failed=%v want [e3]", res.Failed)
	}
}

func TestPublisher_RequestErrorFailsWholeChunkOnly(t *testing.T) {
	f := &fakeSQS{sendErr: errors.New("network")}
	p := NewPublisher(f, "https://queue", zerolog.Nop())

	res, err := p.SendEntries(context.Background(), makeEntries(3))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Failed) != 3 {
		t.Fatalf("failed=%d want=3", len(res.Failed))
	}
}

func TestPublisher_EmptyInputIsNoop(t *testing.T) {
	f := &fakeSQS{}
	p := NewPublisher(f, "https://queue", zerolog.Nop())

	res, err := p.SendEntries(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Successful) != 0 || len(res.Failed) != 0 {
		t.Fatalf("res=%+v want empty", res)
	}
	if len(f.sendInputs) != 0 {
		t.Fatalf("requests=%d want=0", len(f.sendInputs))
	}
}
