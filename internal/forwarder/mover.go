// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package forwarder

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

var logger = loggo.GetLogger("pgqueue.forwarder")

// Mover forwards every event of a batch to DstQueue.
type Mover struct {
	DstQueue string

	pending []*queue.Event
}

// NewMover returns a mover writing into dstQueue.
func NewMover(dstQueue string) (*Mover, error) {
	if dstQueue == "" {
		return nil, errors.NotValidf("empty destination queue")
	}
	return &Mover{DstQueue: dstQueue}, nil
}

// BeginBatch is part of the consumer.BatchHandler interface.
func (m *Mover) BeginBatch(context.Context, database.DBTX, queue.BatchInfo) error {
	m.pending = m.pending[:0]
	return nil
}

// ProcessEvent is part of the consumer.Handler interface.
func (m *Mover) ProcessEvent(_ context.Context, _ database.DBTX, ev *queue.Event) (queue.Outcome, error) {
	m.pending = append(m.pending, ev)
	return queue.Done(), nil
}

// EndBatch is part of the consumer.BatchHandler interface.
func (m *Mover) EndBatch(ctx context.Context, db database.DBTX, info queue.BatchInfo) error {
	if db == nil {
		return errors.NotValidf("mover without a destination database")
	}
	if err := pgq.InsertEventsBulk(ctx, db, m.DstQueue, m.pending); err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("moved %d events of %s into %q", len(m.pending), info, m.DstQueue)
	m.pending = m.pending[:0]
	return nil
}
