// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ticker

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/tomb.v2"

	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// tickWorker calls pgq.ticker() every poll period.
type tickWorker struct {
	tomb   tomb.Tomb
	config Config
	conns  Connections

	ticks   int64
	rounds  int64
	lastLog time.Time
}

func newTickWorker(config Config, conns Connections) *tickWorker {
	w := &tickWorker{
		config:  config,
		conns:   conns,
		lastLog: config.Clock.Now(),
	}
	w.tomb.Go(w.loop)
	return w
}

// Kill is part of the worker.Worker interface.
func (w *tickWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *tickWorker) Wait() error {
	return w.tomb.Wait()
}

func (w *tickWorker) loop() error {
	defer w.conns.Close(context.Background())

	ctx := w.tomb.Context(context.Background())
	w.tick(ctx)

	timer := w.config.Clock.NewTimer(w.config.PollPeriod)
	defer timer.Stop()
	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			w.tick(ctx)
			timer.Reset(w.config.PollPeriod)
		}
	}
}

func (w *tickWorker) tick(ctx context.Context) {
	h, err := w.conns.Get(ctx, w.config.DBName, database.Autocommit())
	if err == nil {
		var n int64
		n, err = pgq.Ticker(ctx, h)
		err = h.Check(ctx, err)
		if err == nil {
			w.ticks += n
			w.rounds++
			w.config.Metrics.ticked(n)
		}
	}
	if err != nil {
		w.config.Metrics.failed(tickLoop)
		w.config.Logger.Errorf("ticker: %v", err)
	}

	now := w.config.Clock.Now()
	if elapsed := now.Sub(w.lastLog); elapsed >= w.config.LogDelay {
		w.config.Logger.Infof("ticker: %s ticks in %s rounds over %s",
			humanize.Comma(w.ticks), humanize.Comma(w.rounds), elapsed)
		w.ticks, w.rounds = 0, 0
		w.lastLog = now
	}
}
