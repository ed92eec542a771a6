// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package consumer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
)

// Logger represents the methods used by the consumer for logging.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// EngineConfig holds the capabilities an Engine is assembled from.
type EngineConfig struct {
	Policy   ProviderPolicy
	Ack      AckStrategy
	Emission Emission
	Handler  Handler

	Stats  *Stats
	Clock  clock.Clock
	Logger Logger
}

// Validate returns an error if the config cannot drive an Engine.
func (c EngineConfig) Validate() error {
	if c.Policy == nil {
		return errors.NotValidf("nil Policy")
	}
	if c.Ack == nil {
		return errors.NotValidf("nil Ack")
	}
	if c.Emission == nil {
		return errors.NotValidf("nil Emission")
	}
	if c.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if c.Stats == nil {
		return errors.NotValidf("nil Stats")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Engine processes one batch at a time. It is not safe for concurrent
// use; a Worker owns it.
type Engine struct {
	config EngineConfig

	// source and lastBatch track the last batch finished on a source.
	// Batch ids only compare within one source.
	source    Source
	lastBatch int64

	// pending holds the retries of a batch that was applied but whose
	// retries or finish failed, so they are sent when the batch comes
	// back already applied.
	pending pendingRetries
}

type pendingRetries struct {
	batchID int64
	retries []retry
}

// NewEngine returns an Engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Engine{config: config}, nil
}

// Stats returns the engine statistics.
func (e *Engine) Stats() *Stats {
	return e.config.Stats
}

// RunOnce polls for a batch and processes it. It returns true if a batch
// was processed, so the caller can poll again without sleeping.
func (e *Engine) RunOnce(ctx context.Context) (bool, error) {
	src, ok, err := e.config.Policy.Prepare(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !ok {
		return false, nil
	}
	if src != e.source {
		e.source = src
		e.lastBatch = 0
		e.pending = pendingRetries{}
	}

	info, found, err := src.NextBatch(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	e.config.Policy.Polled(ctx, found)
	if !found {
		return false, nil
	}

	switch {
	case info.BatchID < e.lastBatch:
		return false, fmt.Errorf("%w: got batch %d after finishing batch %d",
			queue.ErrPositionConflict, info.BatchID, e.lastBatch)
	case info.BatchID == e.lastBatch:
		// The previous finish was lost; the batch has been applied.
		e.config.Logger.Warningf("batch %d handed out again, finishing it", info.BatchID)
		if err := e.finish(ctx, src, info); err != nil {
			return false, errors.Trace(err)
		}
		return true, nil
	}

	if err := e.process(ctx, src, info); err != nil {
		e.config.Stats.BatchFailed()
		e.config.Policy.Failed(ctx, info, err)
		return false, errors.Trace(err)
	}
	return true, nil
}

type batchResult struct {
	events  int
	retries []retry
}

func (e *Engine) process(ctx context.Context, src Source, info queue.BatchInfo) error {
	start := e.config.Clock.Now()

	var result batchResult
	applied, err := e.config.Ack.Apply(ctx, info, func(ctx context.Context, db database.DBTX) error {
		var err error
		result, err = e.apply(ctx, src, db, info)
		return err
	})
	if err != nil {
		return errors.Annotatef(err, "applying %s", info)
	}

	// Retries are only sent once the batch is applied for good, so a
	// failed commit never leaves a retried event queued twice.
	retries := result.retries
	if !applied && e.pending.batchID == info.BatchID {
		retries = e.pending.retries
	}
	e.pending = pendingRetries{batchID: info.BatchID, retries: retries}
	for len(e.pending.retries) > 0 {
		r := e.pending.retries[0]
		if err := src.RetryEvent(ctx, info.BatchID, r.eventID, r.delay); err != nil {
			return errors.Annotatef(err, "retrying event %d of %s", r.eventID, info)
		}
		e.pending.retries = e.pending.retries[1:]
	}
	if err := e.finish(ctx, src, info); err != nil {
		return errors.Trace(err)
	}
	e.pending = pendingRetries{}

	if !applied {
		e.config.Logger.Infof("%s was applied before, skipped", info)
		e.config.Stats.BatchSkipped()
	} else {
		took := e.config.Clock.Now().Sub(start)
		lag := e.config.Clock.Now().Sub(info.TickTime)
		e.config.Stats.BatchDone(result.events, len(result.retries), lag, took)
		e.config.Logger.Debugf("%s applied: %d events, %d retried in %s",
			info, result.events, len(result.retries), took)
	}
	e.config.Policy.Applied(ctx, info)
	return nil
}

func (e *Engine) finish(ctx context.Context, src Source, info queue.BatchInfo) error {
	ok, err := src.FinishBatch(ctx, info.BatchID)
	if err != nil {
		return errors.Annotatef(err, "finishing %s", info)
	}
	if !ok {
		e.config.Logger.Warningf("%s was not known to the server when finishing", info)
	}
	e.lastBatch = info.BatchID
	return nil
}

type retry struct {
	eventID int64
	delay   time.Duration
}

// apply runs the handler and the emission over every event of the batch,
// inside the ack strategy's transaction scope. The batch reader is closed
// before it returns, so nothing else runs in a transaction the source
// holds open for reading.
func (e *Engine) apply(ctx context.Context, src Source, db database.DBTX, info queue.BatchInfo) (_ batchResult, err error) {
	reader, err := src.OpenBatch(ctx, info)
	if err != nil {
		return batchResult{}, errors.Trace(err)
	}
	defer func() {
		if cerr := reader.Close(ctx); cerr != nil {
			e.config.Logger.Warningf("closing %s: %v", info, cerr)
		}
	}()

	batchHandler, hasHooks := e.config.Handler.(BatchHandler)

	var (
		retries []retry
		lastID  int64
		count   int
		started bool
	)
	for {
		chunk, err := reader.Next(ctx)
		if err == io.EOF {
			break
		} else if err != nil {
			return batchResult{}, errors.Trace(err)
		}
		if len(chunk) == 0 {
			continue
		}
		if !started && hasHooks {
			if err := batchHandler.BeginBatch(ctx, db, info); err != nil {
				return batchResult{}, errors.Annotate(err, "beginning batch")
			}
		}
		started = true

		for _, ev := range chunk {
			if ev.ID <= lastID {
				return batchResult{}, fmt.Errorf("%w: event %d after %d", queue.ErrOutOfOrder, ev.ID, lastID)
			}
			lastID = ev.ID

			outcome, err := e.config.Handler.ProcessEvent(ctx, db, ev)
			if err != nil {
				return batchResult{}, errors.Annotatef(err, "processing event %d", ev.ID)
			}
			if !outcome.Acknowledged() {
				return batchResult{}, fmt.Errorf("%w: event %d", queue.ErrUnacknowledged, ev.ID)
			}
			if delay, ok := outcome.IsRetry(); ok {
				retries = append(retries, retry{eventID: ev.ID, delay: delay})
			}
			ev.TagDone()
			count++
		}
		if err := e.config.Emission.EmitEvents(ctx, db, chunk); err != nil {
			return batchResult{}, errors.Trace(err)
		}
	}

	if started && hasHooks {
		if err := batchHandler.EndBatch(ctx, db, info); err != nil {
			return batchResult{}, errors.Annotate(err, "ending batch")
		}
	}
	if err := e.config.Emission.EmitTick(ctx, db, info); err != nil {
		return batchResult{}, errors.Trace(err)
	}

	return batchResult{events: count, retries: retries}, nil
}
