// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cascade

import (
	"context"

	"github.com/juju/errors"

	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// NodeCursor keeps a cascade worker's position in the node metadata, with
// pgq_node.get_consumer_state and pgq_node.set_consumer_completed.
type NodeCursor struct {
	QueueName  string
	WorkerName string
}

// LastTick is part of the consumer.Cursor interface.
func (c NodeCursor) LastTick(ctx context.Context, db database.DBTX) (int64, bool, error) {
	state, err := pgq.GetConsumerState(ctx, db, c.QueueName, c.WorkerName)
	if err != nil {
		return 0, false, errors.Trace(err)
	}
	return state.CompletedTick, state.CompletedTick > 0, nil
}

// SetLastTick is part of the consumer.Cursor interface.
func (c NodeCursor) SetLastTick(ctx context.Context, db database.DBTX, tick int64) error {
	return errors.Trace(pgq.SetConsumerCompleted(ctx, db, c.QueueName, c.WorkerName, tick))
}
