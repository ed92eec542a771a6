// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ticker

import (
	"context"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// maintWorker runs the maintenance steps every maintenance period.
type maintWorker struct {
	tomb   tomb.Tomb
	config Config
	conns  Connections
}

func newMaintWorker(config Config, conns Connections) *maintWorker {
	w := &maintWorker{config: config, conns: conns}
	w.tomb.Go(w.loop)
	return w
}

// Kill is part of the worker.Worker interface.
func (w *maintWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *maintWorker) Wait() error {
	return w.tomb.Wait()
}

func (w *maintWorker) loop() error {
	defer w.conns.Close(context.Background())

	ctx := w.tomb.Context(context.Background())
	w.round(ctx)

	timer := w.config.Clock.NewTimer(w.config.MaintDelay)
	defer timer.Stop()
	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			w.round(ctx)
			timer.Reset(w.config.MaintDelay)
		}
	}
}

// round logs failures; the next period tries again.
func (w *maintWorker) round(ctx context.Context) {
	h, err := w.conns.Get(ctx, w.config.DBName, database.Autocommit())
	if err == nil {
		err = h.Check(ctx, w.maintain(ctx, h))
	}
	if err != nil {
		w.config.Metrics.failed(maintLoop)
		w.config.Logger.Errorf("maintenance: %v", err)
	}
}

func (w *maintWorker) maintain(ctx context.Context, db database.DBTX) error {
	ops, err := pgq.MaintOperations(ctx, db)
	if err != nil {
		return errors.Trace(err)
	}
	for _, op := range ops {
		if err := pgq.RunMaintOp(ctx, db, op); err != nil {
			return errors.Trace(err)
		}
		w.config.Metrics.maintained()
		w.config.Logger.Debugf("maintenance: ran %s", op.Func)
	}

	tables, err := pgq.TablesToVacuum(ctx, db)
	if err != nil {
		return errors.Trace(err)
	}
	for _, t := range tables {
		if err := pgq.Vacuum(ctx, db, t); err != nil {
			return errors.Trace(err)
		}
		w.config.Metrics.vacuumed()
		w.config.Logger.Debugf("maintenance: vacuumed %s", t)
	}
	return nil
}
