// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package signalwatcher turns process signals into requests to a running
// service. It owns no state of the service: handlers forward requests over
// whatever channel the service exposes.
package signalwatcher

import (
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
)

// ErrTerminated is returned by the watcher when a signal asked the service
// to stop.
const ErrTerminated = errors.ConstError("terminated by signal")

// Logger represents the methods used by the watcher for logging.
type Logger interface {
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

// HandlerFunc handles a received signal. A nil error keeps the watcher
// running; any other error stops it with that error.
type HandlerFunc func(os.Signal) error

// SignalWatcher is the worker responsible for watching signals and
// dispatching them to a handler.
type SignalWatcher struct {
	catacomb catacomb.Catacomb
	handler  HandlerFunc
	logger   Logger
	sigCh    <-chan os.Signal
}

// NewSignalWatcher constructs a new signal watcher worker with the specified
// signal channel and handler func.
func NewSignalWatcher(
	logger Logger,
	sig <-chan os.Signal,
	handler HandlerFunc,
) (*SignalWatcher, error) {
	s := &SignalWatcher{
		handler: handler,
		logger:  logger,
		sigCh:   sig,
	}

	if err := catacomb.Invoke(catacomb.Plan{
		Name: "signal-watcher",
		Site: &s.catacomb,
		Work: s.watch,
	}); err != nil {
		return s, fmt.Errorf("creating catacomb plan: %w", err)
	}

	return s, nil
}

// Kill implements worker.Kill
func (s *SignalWatcher) Kill() {
	s.catacomb.Kill(nil)
}

// Wait implements worker.Wait
func (s *SignalWatcher) Wait() error {
	return s.catacomb.Wait()
}

// Dispatch returns a handler running the action mapped to each signal.
// Signals in stop end the watcher with ErrTerminated; unmapped signals are
// logged and ignored. An action error is logged and does not stop the
// watcher.
func Dispatch(logger Logger, actions map[os.Signal]func() error, stop ...os.Signal) HandlerFunc {
	return func(sig os.Signal) error {
		for _, s := range stop {
			if s == sig {
				logger.Infof("received %v, stopping", sig)
				return ErrTerminated
			}
		}
		action, ok := actions[sig]
		if !ok {
			logger.Warningf("ignoring signal %v", sig)
			return nil
		}
		if err := action(); err != nil {
			logger.Warningf("handling %v: %v", sig, err)
		}
		return nil
	}
}

// watch dispatches signals from the provided channel until the handler
// returns an error or the watcher is killed.
func (s *SignalWatcher) watch() error {
	for {
		select {
		case sig, ok := <-s.sigCh:
			if !ok {
				return errors.New("signal channel closed unexpectedly")
			}
			if err := s.handler(sig); err != nil {
				return err
			}
		case <-s.catacomb.Dying():
			return s.catacomb.ErrDying()
		}
	}
}
