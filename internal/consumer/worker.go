// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
)

// State is the lifecycle state of a Worker.
type State string

const (
	Starting  State = "starting"
	Running   State = "running"
	Reloading State = "reloading"
	Stopping  State = "stopping"
	Stopped   State = "stopped"
)

// BatchRunner runs one iteration of a consumer. *Engine implements it.
type BatchRunner interface {
	RunOnce(ctx context.Context) (bool, error)
	Stats() *Stats
}

// Reloadable is the part of the connection registry a reload touches.
type Reloadable interface {
	Reload(ctx context.Context, resolver database.Resolver)
	SetLifetime(lifetime time.Duration)
}

// Reload carries the settings that can change while a worker runs.
type Reload struct {
	LoopDelay          time.Duration
	Resolver           database.Resolver
	ConnectionLifetime time.Duration
}

// WorkerConfig holds the dependencies of a Worker.
type WorkerConfig struct {
	Name        string
	Runner      BatchRunner
	Connections Reloadable
	Clock       clock.Clock
	Logger      Logger

	// LoopDelay is how long to sleep when there was no batch or a batch
	// failed.
	LoopDelay time.Duration
}

// Validate returns an error if the config cannot drive a Worker.
func (c WorkerConfig) Validate() error {
	if c.Name == "" {
		return errors.NotValidf("empty Name")
	}
	if c.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	if c.Connections == nil {
		return errors.NotValidf("nil Connections")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.LoopDelay <= 0 {
		return errors.NotValidf("non positive LoopDelay")
	}
	return nil
}

// Worker runs a consumer until it is killed. Killing it is graceful: a
// batch in progress is always completed or failed before the loop
// notices.
type Worker struct {
	catacomb catacomb.Catacomb
	config   WorkerConfig

	reloads chan reloadRequest
	flushes chan chan StatsSnapshot

	mu    sync.Mutex
	state State
}

// NewWorker starts a consumer worker.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		config:  config,
		reloads: make(chan reloadRequest),
		flushes: make(chan chan StatsSnapshot),
		state:   Starting,
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "consumer-" + config.Name,
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

// State returns the lifecycle state of the worker.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

type reloadRequest struct {
	settings Reload
	done     chan struct{}
}

// Reload hands new settings to the worker. They are applied between
// batches; Reload returns once they are.
func (w *Worker) Reload(r Reload) error {
	req := reloadRequest{settings: r, done: make(chan struct{})}
	select {
	case w.reloads <- req:
	case <-w.catacomb.Dying():
		return w.catacomb.ErrDying()
	}
	select {
	case <-req.done:
		return nil
	case <-w.catacomb.Dying():
		return w.catacomb.ErrDying()
	}
}

// FlushStats logs and resets the interval statistics, returning them.
func (w *Worker) FlushStats() (StatsSnapshot, error) {
	reply := make(chan StatsSnapshot, 1)
	select {
	case w.flushes <- reply:
	case <-w.catacomb.Dying():
		return StatsSnapshot{}, w.catacomb.ErrDying()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-w.catacomb.Dying():
		return StatsSnapshot{}, w.catacomb.ErrDying()
	}
}

func (w *Worker) loop() error {
	defer w.setState(Stopped)

	// Batches run on a context that Kill does not cancel.
	ctx := context.WithoutCancel(w.catacomb.Context(context.Background()))

	ready := make(chan time.Time)
	close(ready)

	var next <-chan time.Time = ready
	w.setState(Running)
	for {
		select {
		case <-w.catacomb.Dying():
			w.setState(Stopping)
			return w.catacomb.ErrDying()
		default:
		}

		select {
		case <-w.catacomb.Dying():
			w.setState(Stopping)
			return w.catacomb.ErrDying()

		case req := <-w.reloads:
			w.setState(Reloading)
			w.applyReload(ctx, req.settings)
			w.setState(Running)
			close(req.done)

		case reply := <-w.flushes:
			snap := w.config.Runner.Stats().Flush()
			w.config.Logger.Infof("%s stats: %s", w.config.Name, snap)
			reply <- snap

		case <-next:
			processed, err := w.config.Runner.RunOnce(ctx)
			switch {
			case errors.Is(err, queue.ErrPositionConflict):
				return errors.Trace(err)
			case err != nil:
				w.config.Logger.Errorf("%s: %v", w.config.Name, err)
				next = w.config.Clock.After(w.config.LoopDelay)
			case processed:
				next = ready
			default:
				next = w.config.Clock.After(w.config.LoopDelay)
			}
		}
	}
}

func (w *Worker) applyReload(ctx context.Context, r Reload) {
	if r.LoopDelay > 0 {
		w.config.LoopDelay = r.LoopDelay
	}
	if r.Resolver != nil {
		w.config.Connections.Reload(ctx, r.Resolver)
	}
	w.config.Connections.SetLifetime(r.ConnectionLifetime)
	w.config.Logger.Infof("%s reloaded, loop delay %s", w.config.Name, w.config.LoopDelay)
}
