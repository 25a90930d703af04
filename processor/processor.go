// Package processor consumes batches of queued catalog-change messages and
// applies them to the transactional store. Malformed messages are dropped
// (poison-message policy); apply failures are reported per message so the
// queue redelivers only those.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baldanca/catalog-ingestor/catalog"
	"github.com/baldanca/catalog-ingestor/queue"
)

// Store is the transactional catalog store the processor writes through.
type Store interface {
	Create(ctx context.Context, e catalog.Entity, id string) error
	Update(ctx context.Context, e catalog.Entity) error
}

// Notifier announces successfully applied entities. Failures are logged,
// never surfaced into the redelivery contract.
type Notifier interface {
	EntityApplied(ctx context.Context, e catalog.Entity) error
}

// Result is the redelivery contract: the queue redelivers exactly the
// listed message IDs and acknowledges the rest.
type Result struct {
	FailedMessageIDs []string
}

type Processor struct {
	store    Store
	notifier Notifier
	log      zerolog.Logger

	newID func() string
}

// New builds a processor. notifier may be nil when no announcement topic is
// configured.
func New(store Store, notifier Notifier, log zerolog.Logger) *Processor {
	if store == nil {
		panic("store is required")
	}
	return &Processor{
		store:    store,
		notifier: notifier,
		log:      log,
		newID:    uuid.NewString,
	}
}

type pendingApply struct {
	entity    catalog.Entity
	messageID string
}

// ProcessBatch validates, deduplicates, and applies one delivered batch.
//
// Parse and validation failures drop the message without marking it failed:
// a permanently malformed message must not be redelivered forever. Repeated
// updates to the same (id, title) within the batch collapse to the last one
// in delivery order. Surviving entities are applied concurrently, one
// transaction each; an apply error marks only that entity's message failed.
func (p *Processor) ProcessBatch(ctx context.Context, msgs []queue.Message) Result {
	type dedupKey struct{ id, title string }

	order := make([]dedupKey, 0, len(msgs))
	pending := make(map[dedupKey]pendingApply, len(msgs))

	for _, m := range msgs {
		var raw map[string]any
		if err := json.Unmarshal([]byte(m.Body), &raw); err != nil {
			p.log.Error().Err(err).Str("message_id", m.ID).Msg("dropping unparseable message")
			continue
		}

		entity, err := catalog.Validate(raw, catalog.ValidateOptions{RequireID: true, AllowAbsentID: true})
		if err != nil {
			var verr *catalog.ValidationError
			reason := err.Error()
			if errors.As(err, &verr) {
				reason = verr.Reason
			}
			p.log.Error().Str("message_id", m.ID).Str("reason", reason).Msg("dropping invalid message")
			continue
		}

		key := dedupKey{id: entity.ID, title: entity.Title}
		if _, dup := pending[key]; dup {
			p.log.Warn().
				Str("id", entity.ID).
				Str("title", entity.Title).
				Msg("duplicate entity in batch, keeping the later message")
		} else {
			order = append(order, key)
		}
		pending[key] = pendingApply{entity: entity, messageID: m.ID}
	}

	var (
		mu     sync.Mutex
		failed []string
		wg     sync.WaitGroup
	)

	for _, key := range order {
		apply := pending[key]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.apply(ctx, apply.entity); err != nil {
				p.log.Error().Err(err).Str("id", apply.entity.ID).Msg("apply failed")
				mu.Lock()
				failed = append(failed, apply.messageID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return Result{FailedMessageIDs: failed}
}

func (p *Processor) apply(ctx context.Context, e catalog.Entity) error {
	created := false
	if e.ID == catalog.SentinelID {
		e.ID = p.newID()
		if err := p.store.Create(ctx, e, e.ID); err != nil {
			return err
		}
		created = true
		p.log.Info().Str("id", e.ID).Msg("entity created")
	} else {
		if err := p.store.Update(ctx, e); err != nil {
			return err
		}
		p.log.Info().Str("id", e.ID).Msg("entity updated")
	}

	if p.notifier != nil {
		if err := p.notifier.EntityApplied(ctx, e); err != nil {
			// Fire and forget: a notification failure never fails the message.
			p.log.Error().Err(err).Str("id", e.ID).Bool("created", created).Msg("notification failed")
		}
	}
	return nil
}
