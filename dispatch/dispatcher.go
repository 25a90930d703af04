// Package dispatch streams uploaded catalog files, validates their rows
// structurally, republishes them to the change queue in bounded batches,
// and relocates each source object to a parsed or failed prefix once its
// processing ends.
package dispatch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baldanca/catalog-ingestor/objectstore"
	"github.com/baldanca/catalog-ingestor/queue"
	"github.com/baldanca/catalog-ingestor/retry"
)

// ObjectRef identifies one uploaded object from a storage-event
// notification.
type ObjectRef struct {
	Bucket string
	Key    string
}

// Publisher sends row batches to the change queue.
type Publisher interface {
	SendEntries(ctx context.Context, entries []queue.Entry) (queue.BatchResult, error)
}

// Archiver persists a normalized snapshot of the parsed rows. Optional.
type Archiver interface {
	Snapshot(ctx context.Context, sourceKey string, rows []map[string]string) (string, error)
}

type Config struct {
	UploadedPrefix string
	ParsedPrefix   string
	FailedPrefix   string
}

var DefaultConfig = Config{
	UploadedPrefix: "uploaded",
	ParsedPrefix:   "parsed",
	FailedPrefix:   "failed",
}

func (c Config) validate() error {
	if c.UploadedPrefix == "" || c.ParsedPrefix == "" || c.FailedPrefix == "" {
		return fmt.Errorf("all three prefixes are required")
	}
	return nil
}

type Dispatcher struct {
	cfg Config

	store     *objectstore.Store
	mover     *objectstore.Mover
	publisher Publisher
	archiver  Archiver
	moveRetry retry.Policy
	log       zerolog.Logger

	now func() time.Time
}

func New(cfg Config, store *objectstore.Store, mover *objectstore.Mover, publisher Publisher, log zerolog.Logger) (*Dispatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil || mover == nil {
		return nil, fmt.Errorf("store and mover are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &Dispatcher{
		cfg:       cfg,
		store:     store,
		mover:     mover,
		publisher: publisher,
		moveRetry: retry.Default,
		log:       log,
		now:       time.Now,
	}, nil
}

// SetArchiver enables best-effort parquet snapshots of parsed files.
func (d *Dispatcher) SetArchiver(a Archiver) { d.archiver = a }

// SetMoveRetry overrides the policy hardening the post-processing moves.
func (d *Dispatcher) SetMoveRetry(p retry.Policy) {
	if p == nil {
		p = retry.Nop{}
	}
	d.moveRetry = p
}

// HandleObjects processes every referenced object concurrently and
// independently: one object's failure never affects another's. All failure
// handling happens internally; a failed file is routed to the failed
// prefix, never propagated.
func (d *Dispatcher) HandleObjects(ctx context.Context, refs []ObjectRef) {
	var wg sync.WaitGroup
	for _, ref := range refs {
		ref := ref
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleObject(ctx, ref)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) handleObject(ctx context.Context, ref ObjectRef) {
	log := d.log.With().Str("key", ref.Key).Logger()

	if ref.Bucket != "" && ref.Bucket != d.store.Bucket() {
		log.Warn().Str("bucket", ref.Bucket).Msg("notification for unexpected bucket, skipping")
		return
	}

	// Reprocessing guard: objects already moved out of the uploaded prefix
	// (and re-notified) are a no-op, which makes upload notifications
	// idempotent.
	if !hasPrefix(ref.Key, d.cfg.UploadedPrefix) {
		log.Info().Msg("object is not under the uploaded prefix, skipping")
		return
	}

	rows, err := d.parse(ctx, ref.Key)
	if err != nil {
		log.Error().Err(err).Msg("processing failed, routing file to failed prefix")
		d.moveTo(ctx, ref.Key, d.cfg.FailedPrefix, log)
		return
	}

	d.publish(ctx, rows, log)

	if d.archiver != nil {
		if _, err := d.archiver.Snapshot(ctx, ref.Key, rows); err != nil {
			log.Error().Err(err).Msg("archive snapshot failed")
		}
	}

	log.Info().Int("rows", len(rows)).Msg("parsing ended")
	d.moveTo(ctx, ref.Key, d.cfg.ParsedPrefix, log)
}

// parse streams the object as strictly structured delimited rows. A
// malformed row or a field containing control characters fails the whole
// file.
func (d *Dispatcher) parse(ctx context.Context, key string) ([]map[string]string, error) {
	body, err := d.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	r := csv.NewReader(body)

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var rows []map[string]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}

		row := make(map[string]string, len(header))
		for i, field := range record {
			if hasControlChars(field) {
				return nil, fmt.Errorf("row %d: field %q contains control characters", len(rows)+1, header[i])
			}
			row[header[i]] = field
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// publish serializes the rows and sends them in batches of queue.BatchSize.
// Partial failures are logged and tolerated: the queue's consumer side owns
// semantic validation, and the file's routing depends on the parse outcome
// only.
func (d *Dispatcher) publish(ctx context.Context, rows []map[string]string, log zerolog.Logger) {
	if len(rows) == 0 {
		return
	}

	entries := make([]queue.Entry, 0, len(rows))
	for i, row := range rows {
		body, err := json.Marshal(row)
		if err != nil {
			log.Error().Err(err).Int("row", i+1).Msg("row not serializable, skipping")
			continue
		}
		entries = append(entries, queue.Entry{ID: uuid.NewString(), Body: string(body)})
	}

	res, err := d.publisher.SendEntries(ctx, entries)
	if err != nil {
		log.Error().Err(err).Msg("sending batches failed")
		return
	}
	log.Info().
		Int("successful", len(res.Successful)).
		Int("failed", len(res.Failed)).
		Msg("rows published")
}

// moveTo relocates the object under targetPrefix with a retried move. A
// failure here is logged and abandoned: the object stays under uploaded/,
// and the reprocessing guard keeps the eventual redelivery harmless.
func (d *Dispatcher) moveTo(ctx context.Context, key, targetPrefix string, log zerolog.Logger) {
	dst, err := objectstore.UniqueKey(key, targetPrefix, d.now())
	if err != nil {
		log.Error().Err(err).Str("prefix", targetPrefix).Msg("cannot derive destination key")
		return
	}

	err = d.moveRetry.Do(ctx, func(ctx context.Context) error {
		return d.mover.Move(ctx, key, dst)
	})
	if err != nil {
		log.Error().Err(err).Str("dst", dst).Msg("move failed after retries")
		return
	}
	log.Info().Str("dst", dst).Msg("file moved")
}

func hasPrefix(key, prefix string) bool {
	return len(key) > len(prefix)+1 && key[:len(prefix)+1] == prefix+"/"
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r <= 0x08 || (r >= 0x0E && r <= 0x1F) {
			return true
		}
	}
	return false
}
