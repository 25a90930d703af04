package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrRollbackFailed tags a move whose delete failed AND whose compensating
// delete of the fresh copy also failed. The object may now exist under both
// keys; callers must treat this as requiring manual reconciliation rather
// than retrying blindly.
var ErrRollbackFailed = errors.New("move rollback failed: duplicate object may exist")

// Mover relocates an object between two keys with copy-then-delete
// semantics. Every failure path ends either with exactly one copy of the
// object, or with an ErrRollbackFailed-tagged error.
type Mover struct {
	store *Store
	log   zerolog.Logger
}

// NewMover builds a mover. Pass zerolog.Nop() to suppress per-step logging.
func NewMover(store *Store, log zerolog.Logger) *Mover {
	if store == nil {
		panic("object store is required")
	}
	return &Mover{store: store, log: log}
}

// Move copies srcKey to dstKey, then deletes srcKey.
//
// Copy failure aborts immediately with the copy error; nothing was written.
// Delete failure triggers a rollback delete of the fresh copy: if the
// rollback succeeds the original delete error is returned (the source is
// intact, the whole move is safe to retry); if the rollback fails too, the
// rollback error is returned wrapped in ErrRollbackFailed, superseding the
// delete error.
func (m *Mover) Move(ctx context.Context, srcKey, dstKey string) error {
	if err := m.store.Copy(ctx, srcKey, dstKey); err != nil {
		m.log.Error().Err(err).Str("src", srcKey).Str("dst", dstKey).Msg("move: copy failed")
		return err
	}
	m.log.Debug().Str("src", srcKey).Str("dst", dstKey).Msg("move: copied")

	deleteErr := m.store.Delete(ctx, srcKey)
	if deleteErr == nil {
		m.log.Debug().Str("src", srcKey).Str("dst", dstKey).Msg("move: done")
		return nil
	}
	m.log.Error().Err(deleteErr).Str("src", srcKey).Msg("move: delete of source failed, rolling back")

	if rbErr := m.store.Delete(ctx, dstKey); rbErr != nil {
		m.log.Error().Err(rbErr).Str("dst", dstKey).Msg("move: rollback delete failed, object may be duplicated")
		return fmt.Errorf("%w: %w", ErrRollbackFailed, rbErr)
	}

	m.log.Warn().Str("dst", dstKey).Msg("move: rolled back, source left in place")
	return deleteErr
}
