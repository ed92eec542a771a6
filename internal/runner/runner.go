// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package runner assembles pgqueue services from their configuration.
//
// Each Factory builds one kind of service: a plain consumer, a serial
// consumer, a cascaded worker or the ticker. The command layer owns the
// process concerns (pid file, logging, signals) and drives a Service
// through Reload and FlushStats.
package runner

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/pgqueue/internal/config"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/database/txn"
)

// ErrUnreachable is returned when a database could not be reached while
// starting a service.
const ErrUnreachable = errors.ConstError("database unreachable")

// reachAttempts is how many times a service tries to reach its databases
// before giving up.
const reachAttempts = 3

// Logger represents the methods used by services for logging.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Params holds what every service is built from.
type Params struct {
	Config *config.Config
	Open   database.OpenFunc
	Clock  clock.Clock
	Logger Logger

	// Registerer, if not nil, receives the service metrics.
	Registerer prometheus.Registerer
}

// Validate returns an error if the params cannot build a service.
func (p Params) Validate() error {
	if p.Config == nil {
		return errors.NotValidf("nil Config")
	}
	if p.Open == nil {
		return errors.NotValidf("nil Open")
	}
	if p.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if p.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Service is a running pgqueue service.
type Service interface {
	worker.Worker

	// Reload applies a re-read configuration. Settings that cannot change
	// while running are ignored with a warning.
	Reload(cfg *config.Config) error

	// FlushStats logs the statistics gathered since the previous flush.
	FlushStats() error
}

// Factory starts a service.
type Factory func(ctx context.Context, p Params) (Service, error)

func newRegistry(p Params) (*database.Registry, error) {
	return database.NewRegistry(database.RegistryConfig{
		Resolver: p.Config.Resolver(),
		Open:     p.Open,
		Clock:    p.Clock,
		Logger:   p.Logger,
		Lifetime: p.Config.ConnectionLifetime(),
	})
}

func register(p Params, c prometheus.Collector) error {
	if p.Registerer == nil {
		return nil
	}
	if err := p.Registerer.Register(c); err != nil {
		return errors.Annotate(err, "registering metrics")
	}
	return nil
}

// reach runs f until it succeeds, retrying transport errors. A transport
// error that outlasts the attempts is returned as ErrUnreachable.
func reach(ctx context.Context, p Params, what string, f func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: f,
		IsFatalError: func(err error) bool {
			return !txn.IsTransportError(err)
		},
		NotifyFunc: func(err error, attempt int) {
			p.Logger.Warningf("%s, attempt %d: %v", what, attempt, err)
		},
		Attempts: reachAttempts,
		Delay:    p.Config.LoopDelay(),
		Clock:    p.Clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return nil
	}
	return unreachable(what, retry.LastError(err))
}

// unreachable annotates err with what, reporting transport errors as
// ErrUnreachable.
func unreachable(what string, err error) error {
	if txn.IsTransportError(err) {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, what, err)
	}
	return errors.Annotate(err, what)
}
