// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package consumer

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/database/txn"
	"github.com/canonical/pgqueue/internal/pgq"
)

// ApplyFunc applies a batch. db is the destination transaction, or nil if
// the strategy has no target.
type ApplyFunc func(ctx context.Context, db database.DBTX) error

// AckStrategy decides how applying a batch and recording the consumer
// position relate. The engine finishes the batch on the source only after
// Apply returned successfully.
type AckStrategy interface {
	// Apply runs apply for the batch. It returns false if the batch was
	// found to be applied already and apply was not run.
	Apply(ctx context.Context, info queue.BatchInfo, apply ApplyFunc) (bool, error)
}

// Target is a destination database.
type Target interface {
	txn.Beginner

	// Check inspects an error returned while using the target, dropping
	// the connection on transport errors. It returns the error unchanged.
	Check(ctx context.Context, err error) error
}

// TargetFunc returns the destination for the next batch. It is called once
// per batch, so connections can be recycled between batches.
type TargetFunc func(ctx context.Context) (Target, error)

// RegistryTarget returns a TargetFunc handing out the named connection.
func RegistryTarget(conns Connections, name string, opts ...database.Option) TargetFunc {
	return func(ctx context.Context) (Target, error) {
		h, err := conns.Get(ctx, name, opts...)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return h, nil
	}
}

// PerBatch applies a batch and then lets the engine finish it. With a
// Target, the batch is applied in a destination transaction committed
// before the batch is finished, so a crash in between delivers the batch
// again (at least once). Without a Target, the handler gets no database.
type PerBatch struct {
	Target TargetFunc
}

// Apply is part of the AckStrategy interface.
func (p PerBatch) Apply(ctx context.Context, info queue.BatchInfo, apply ApplyFunc) (bool, error) {
	if p.Target == nil {
		return true, errors.Trace(apply(ctx, nil))
	}
	target, err := p.Target(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	err = txn.Txn(ctx, target, func(ctx context.Context, tx pgx.Tx) error {
		return apply(ctx, tx)
	})
	return err == nil, target.Check(ctx, err)
}

// Cursor stores the consumer position in the destination database.
type Cursor interface {
	// LastTick returns the last applied tick, or false if there is none.
	LastTick(ctx context.Context, db database.DBTX) (int64, bool, error)

	// SetLastTick records tick as applied. It runs in the apply
	// transaction.
	SetLastTick(ctx context.Context, db database.DBTX, tick int64) error
}

// InTxn applies a batch and records its tick in the same destination
// transaction. A batch whose tick is already recorded is not applied
// again, which makes delivery exactly once even when the process dies
// between the destination commit and finishing the batch.
type InTxn struct {
	Target TargetFunc
	Cursor Cursor
}

// Apply is part of the AckStrategy interface.
func (s InTxn) Apply(ctx context.Context, info queue.BatchInfo, apply ApplyFunc) (bool, error) {
	if s.Target == nil || s.Cursor == nil {
		return false, errors.NotValidf("InTxn without Target or Cursor")
	}
	target, err := s.Target(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}

	var applied bool
	err = txn.Txn(ctx, target, func(ctx context.Context, tx pgx.Tx) error {
		last, ok, err := s.Cursor.LastTick(ctx, tx)
		if err != nil {
			return errors.Trace(err)
		}
		if ok && last >= info.TickID {
			return nil
		}
		if err := apply(ctx, tx); err != nil {
			return errors.Trace(err)
		}
		if err := s.Cursor.SetLastTick(ctx, tx, info.TickID); err != nil {
			return errors.Trace(err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, target.Check(ctx, err)
	}
	return applied, nil
}

// ExtCursor keeps the position with pgq_ext.get_last_tick and
// pgq_ext.set_last_tick, keyed by consumer name.
type ExtCursor struct {
	ConsumerName string
}

// LastTick is part of the Cursor interface.
func (c ExtCursor) LastTick(ctx context.Context, db database.DBTX) (int64, bool, error) {
	return pgq.GetLastTick(ctx, db, c.ConsumerName)
}

// SetLastTick is part of the Cursor interface.
func (c ExtCursor) SetLastTick(ctx context.Context, db database.DBTX, tick int64) error {
	return pgq.SetLastTick(ctx, db, c.ConsumerName, tick)
}
