// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cascade

import (
	"context"

	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// ReEmit copies applied events and the closing tick into the local queue
// of a branch, so its own subscribers see the same events, ids and ticks
// as the provider's.
type ReEmit struct {
	QueueName string
}

// EmitEvents is part of the consumer.Emission interface.
func (r ReEmit) EmitEvents(ctx context.Context, db database.DBTX, events []*queue.Event) error {
	for _, ev := range events {
		if err := pgq.InsertEventRaw(ctx, db, r.QueueName, ev); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// EmitTick is part of the consumer.Emission interface.
func (r ReEmit) EmitTick(ctx context.Context, db database.DBTX, info queue.BatchInfo) error {
	return errors.Trace(pgq.TickAt(ctx, db, r.QueueName, info.TickID, info.TickTime, info.EventSeq))
}
