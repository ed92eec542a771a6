// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package forwarder

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// DefaultQueueField is the event field naming the destination queue when
// none is configured.
const DefaultQueueField = "extra1"

// Splitter forwards each event to the queue named by its Field.
type Splitter struct {
	Field string

	queues  set.Strings
	pending map[string][]*queue.Event
}

// NewSplitter returns a splitter routing on field, or on
// DefaultQueueField if field is empty.
func NewSplitter(field string) (*Splitter, error) {
	if field == "" {
		field = DefaultQueueField
	}
	if !queue.ValidField(field) {
		return nil, errors.NotValidf("queue field %q", field)
	}
	s := &Splitter{Field: field}
	s.reset()
	return s, nil
}

func (s *Splitter) reset() {
	s.queues = set.NewStrings()
	s.pending = make(map[string][]*queue.Event)
}

// BeginBatch is part of the consumer.BatchHandler interface.
func (s *Splitter) BeginBatch(context.Context, database.DBTX, queue.BatchInfo) error {
	s.reset()
	return nil
}

// ProcessEvent is part of the consumer.Handler interface. Events with no
// destination queue fail the batch.
func (s *Splitter) ProcessEvent(_ context.Context, _ database.DBTX, ev *queue.Event) (queue.Outcome, error) {
	dst, err := ev.Field(s.Field)
	if err != nil {
		return queue.Outcome{}, errors.Trace(err)
	}
	if dst == "" {
		return queue.Outcome{}, errors.NotValidf("%s with empty %s", ev, s.Field)
	}
	s.queues.Add(dst)
	s.pending[dst] = append(s.pending[dst], ev)
	return queue.Done(), nil
}

// EndBatch is part of the consumer.BatchHandler interface.
func (s *Splitter) EndBatch(ctx context.Context, db database.DBTX, info queue.BatchInfo) error {
	if db == nil {
		return errors.NotValidf("splitter without a destination database")
	}
	for _, dst := range s.queues.SortedValues() {
		if err := pgq.InsertEventsBulk(ctx, db, dst, s.pending[dst]); err != nil {
			return errors.Trace(err)
		}
	}
	logger.Debugf("split %s into %d queues", info, s.queues.Size())
	s.reset()
	return nil
}
