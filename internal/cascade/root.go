// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cascade

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/canonical/pgqueue/internal/consumer"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// RootConfig holds the dependencies of a RootWorker.
type RootConfig struct {
	Connections consumer.Connections
	LocalDB     string
	QueueName   string

	// Period is how often the global watermark is recomputed.
	Period time.Duration

	Clock  clock.Clock
	Logger consumer.Logger
}

// Validate returns an error if the config cannot drive a RootWorker.
func (c RootConfig) Validate() error {
	if c.Connections == nil {
		return errors.NotValidf("nil Connections")
	}
	if c.LocalDB == "" {
		return errors.NotValidf("empty LocalDB")
	}
	if c.QueueName == "" {
		return errors.NotValidf("empty QueueName")
	}
	if c.Period <= 0 {
		return errors.NotValidf("non positive Period")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// RootWorker runs on the root node of a cascade. It does not consume; it
// periodically asks the server to compute the global watermark from the
// subscribers' watermarks, which also publishes it downstream as a
// pgq.global-watermark event.
type RootWorker struct {
	tomb   tomb.Tomb
	config RootConfig
}

// NewRootWorker starts a RootWorker.
func NewRootWorker(config RootConfig) (*RootWorker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &RootWorker{config: config}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *RootWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *RootWorker) Wait() error {
	return w.tomb.Wait()
}

func (w *RootWorker) loop() error {
	ctx := w.tomb.Context(context.Background())
	w.publish(ctx)

	timer := w.config.Clock.NewTimer(w.config.Period)
	defer timer.Stop()

	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			w.publish(ctx)
			timer.Reset(w.config.Period)
		}
	}
}

// publish logs failures; the next period tries again.
func (w *RootWorker) publish(ctx context.Context) {
	h, err := w.config.Connections.Get(ctx, w.config.LocalDB, database.Autocommit())
	if err == nil {
		err = h.Check(ctx, pgq.SetGlobalWatermark(ctx, h, w.config.QueueName))
	}
	if err != nil {
		w.config.Logger.Errorf("publishing global watermark: %v", err)
		return
	}
	w.config.Logger.Debugf("global watermark of %q recomputed", w.config.QueueName)
}
