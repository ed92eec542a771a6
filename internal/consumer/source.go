// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package consumer

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// Source is the queue a consumer reads batches from.
type Source interface {
	// NextBatch returns the next batch, or false if none is ready.
	NextBatch(ctx context.Context) (queue.BatchInfo, bool, error)

	// OpenBatch returns a reader over the events of a batch.
	OpenBatch(ctx context.Context, info queue.BatchInfo) (queue.EventReader, error)

	// RetryEvent schedules an event of an open batch for redelivery.
	RetryEvent(ctx context.Context, batchID, eventID int64, delay time.Duration) error

	// FinishBatch closes a batch. It returns false if the server did not
	// know it.
	FinishBatch(ctx context.Context, batchID int64) (bool, error)

	// Register subscribes the consumer to the queue.
	Register(ctx context.Context) error

	// Unregister drops the subscription.
	Unregister(ctx context.Context) error
}

// Connections hands out named connections. *database.Registry implements
// it.
type Connections interface {
	Get(ctx context.Context, name string, opts ...database.Option) (*database.Handle, error)
}

// PgqSourceConfig describes a PgqSource.
type PgqSourceConfig struct {
	Connections Connections

	// DBName is the connection name of the queue database.
	DBName       string
	QueueName    string
	ConsumerName string

	// LazyFetch, if positive, streams batches through a cursor in chunks
	// of that many events.
	LazyFetch int

	// Filter is an SQL condition on the event columns. Only matching events
	// are delivered; the others are skipped but still finished.
	Filter string
}

// Validate returns an error if the config cannot drive a PgqSource.
func (c PgqSourceConfig) Validate() error {
	if c.Connections == nil {
		return errors.NotValidf("nil Connections")
	}
	if c.DBName == "" {
		return errors.NotValidf("empty DBName")
	}
	if c.QueueName == "" {
		return errors.NotValidf("empty QueueName")
	}
	if c.ConsumerName == "" {
		return errors.NotValidf("empty ConsumerName")
	}
	if c.LazyFetch < 0 {
		return errors.NotValidf("negative LazyFetch")
	}
	return nil
}

// PgqSource is a Source backed by the pgq schema. Every call goes through
// an autocommit handle; transport errors drop the handle so the next call
// reconnects.
type PgqSource struct {
	config PgqSourceConfig
}

// NewPgqSource returns a PgqSource.
func NewPgqSource(config PgqSourceConfig) (*PgqSource, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &PgqSource{config: config}, nil
}

func (s *PgqSource) handle(ctx context.Context) (*database.Handle, error) {
	h, err := s.config.Connections.Get(ctx, s.config.DBName, database.Autocommit())
	return h, errors.Trace(err)
}

// NextBatch is part of the Source interface.
func (s *PgqSource) NextBatch(ctx context.Context) (queue.BatchInfo, bool, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return queue.BatchInfo{}, false, err
	}
	info, ok, err := pgq.NextBatch(ctx, h, s.config.QueueName, s.config.ConsumerName)
	return info, ok, h.Check(ctx, err)
}

// OpenBatch is part of the Source interface.
func (s *PgqSource) OpenBatch(ctx context.Context, info queue.BatchInfo) (queue.EventReader, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	if s.config.LazyFetch > 0 {
		r, err := pgq.OpenBatchCursor(ctx, h, info.BatchID, s.config.LazyFetch, s.config.Filter)
		if err != nil {
			return nil, h.Check(ctx, err)
		}
		return r, nil
	}
	events, err := pgq.BatchEvents(ctx, h, info.BatchID, s.config.Filter)
	if err != nil {
		return nil, h.Check(ctx, err)
	}
	return queue.NewSliceReader(events, 0), nil
}

// RetryEvent is part of the Source interface.
func (s *PgqSource) RetryEvent(ctx context.Context, batchID, eventID int64, delay time.Duration) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}
	return h.Check(ctx, pgq.EventRetry(ctx, h, batchID, eventID, delay))
}

// FinishBatch is part of the Source interface.
func (s *PgqSource) FinishBatch(ctx context.Context, batchID int64) (bool, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return false, err
	}
	ok, err := pgq.FinishBatch(ctx, h, batchID)
	return ok, h.Check(ctx, err)
}

// Register is part of the Source interface.
func (s *PgqSource) Register(ctx context.Context) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}
	_, err = pgq.RegisterConsumer(ctx, h, s.config.QueueName, s.config.ConsumerName)
	return h.Check(ctx, err)
}

// Unregister is part of the Source interface.
func (s *PgqSource) Unregister(ctx context.Context) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}
	return h.Check(ctx, pgq.UnregisterConsumer(ctx, h, s.config.QueueName, s.config.ConsumerName))
}
