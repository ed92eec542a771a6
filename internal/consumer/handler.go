// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package consumer

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
)

// Handler processes the events of a batch. db is the destination
// transaction when the ack strategy has a target, and nil otherwise.
//
// A handler must return an acknowledged Outcome for every event it
// accepts; a zero Outcome aborts the batch.
type Handler interface {
	ProcessEvent(ctx context.Context, db database.DBTX, ev *queue.Event) (queue.Outcome, error)
}

// BatchHandler is implemented by handlers that need to know where batches
// start and end, for example to buffer events and write them in one go.
// BeginBatch is also called when a failed batch is retried, so it must
// reset any buffered state.
type BatchHandler interface {
	Handler
	BeginBatch(ctx context.Context, db database.DBTX, info queue.BatchInfo) error
	EndBatch(ctx context.Context, db database.DBTX, info queue.BatchInfo) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, db database.DBTX, ev *queue.Event) (queue.Outcome, error)

// ProcessEvent is part of the Handler interface.
func (f HandlerFunc) ProcessEvent(ctx context.Context, db database.DBTX, ev *queue.Event) (queue.Outcome, error) {
	return f(ctx, db, ev)
}

// Settings is the read only view of the service configuration a handler
// factory gets.
type Settings interface {
	// String returns a setting, or the empty string if it is not set.
	String(key string) string
	// Strings returns a comma separated list setting.
	Strings(key string) []string
}

// HandlerFactory builds a handler from the service configuration.
type HandlerFactory func(Settings) (Handler, error)

var (
	handlersMu sync.Mutex
	handlers   = make(map[string]HandlerFactory)
)

// RegisterHandler makes a handler available under name. It is meant to be
// called from init functions; registering a name twice panics.
func RegisterHandler(name string, factory HandlerFactory) {
	handlersMu.Lock()
	defer handlersMu.Unlock()

	if factory == nil {
		panic("consumer: nil handler factory for " + name)
	}
	if _, dup := handlers[name]; dup {
		panic("consumer: handler " + name + " registered twice")
	}
	handlers[name] = factory
}

// NewHandler builds the handler registered under name.
func NewHandler(name string, settings Settings) (Handler, error) {
	handlersMu.Lock()
	factory, ok := handlers[name]
	handlersMu.Unlock()

	if !ok {
		return nil, errors.NotFoundf("handler %q", name)
	}
	h, err := factory(settings)
	return h, errors.Annotatef(err, "creating handler %q", name)
}

// HandlerNames returns the registered handler names, sorted.
func HandlerNames() []string {
	handlersMu.Lock()
	defer handlersMu.Unlock()

	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
