// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ticker

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/canonical/pgqueue/internal/database"
)

// Defaults for the periods of a Config.
const (
	DefaultPollPeriod = time.Second
	DefaultLogDelay   = 300 * time.Second
	DefaultMaintDelay = 120 * time.Second
)

// Logger represents the methods used by the ticker for logging.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Connections is a connection registry owned by one loop.
// *database.Registry implements it.
type Connections interface {
	Get(ctx context.Context, name string, opts ...database.Option) (*database.Handle, error)
	Close(ctx context.Context)
}

// Config holds the dependencies of a Ticker.
type Config struct {
	// NewConnections returns a fresh registry. It is called once per
	// loop.
	NewConnections func() (Connections, error)
	// DBName is the connection name of the queue database.
	DBName string

	PollPeriod time.Duration
	LogDelay   time.Duration
	MaintDelay time.Duration

	Metrics *Metrics
	Clock   clock.Clock
	Logger  Logger
}

// Validate returns an error if the config cannot drive a Ticker.
func (c Config) Validate() error {
	if c.NewConnections == nil {
		return errors.NotValidf("nil NewConnections")
	}
	if c.DBName == "" {
		return errors.NotValidf("empty DBName")
	}
	if c.PollPeriod < 0 || c.LogDelay < 0 || c.MaintDelay < 0 {
		return errors.NotValidf("negative period")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.PollPeriod == 0 {
		c.PollPeriod = DefaultPollPeriod
	}
	if c.LogDelay == 0 {
		c.LogDelay = DefaultLogDelay
	}
	if c.MaintDelay == 0 {
		c.MaintDelay = DefaultMaintDelay
	}
}

// Ticker runs the tick and maintenance loops. If either loop dies, the
// ticker dies with it.
type Ticker struct {
	catacomb catacomb.Catacomb
	config   Config
}

// New starts a Ticker.
func New(config Config) (*Ticker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	config.setDefaults()

	tickConns, err := config.NewConnections()
	if err != nil {
		return nil, errors.Annotate(err, "creating tick connections")
	}
	maintConns, err := config.NewConnections()
	if err != nil {
		tickConns.Close(context.Background())
		return nil, errors.Annotate(err, "creating maintenance connections")
	}

	t := &Ticker{config: config}
	tick := newTickWorker(config, tickConns)
	maint := newMaintWorker(config, maintConns)
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "ticker",
		Site: &t.catacomb,
		Work: t.loop,
		Init: []worker.Worker{tick, maint},
	}); err != nil {
		tick.Kill()
		maint.Kill()
		_ = tick.Wait()
		_ = maint.Wait()
		return nil, errors.Trace(err)
	}
	return t, nil
}

// Kill is part of the worker.Worker interface.
func (t *Ticker) Kill() {
	t.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (t *Ticker) Wait() error {
	return t.catacomb.Wait()
}

func (t *Ticker) loop() error {
	<-t.catacomb.Dying()
	return t.catacomb.ErrDying()
}
