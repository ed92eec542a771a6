// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package consumer

import (
	"context"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
)

// ProviderPolicy decides where batches come from.
type ProviderPolicy interface {
	// Prepare returns the source to poll in this iteration, or false if
	// the engine should not poll (paused, holding for a switch).
	Prepare(ctx context.Context) (Source, bool, error)

	// Polled reports whether the last poll found a batch.
	Polled(ctx context.Context, found bool)

	// Applied reports a batch that was applied and finished.
	Applied(ctx context.Context, info queue.BatchInfo)

	// Failed reports a batch that could not be applied.
	Failed(ctx context.Context, info queue.BatchInfo, err error)
}

// FixedProvider always reads from the same source.
type FixedProvider struct {
	Source Source
}

// Prepare is part of the ProviderPolicy interface.
func (p FixedProvider) Prepare(context.Context) (Source, bool, error) {
	return p.Source, true, nil
}

// Polled is part of the ProviderPolicy interface.
func (FixedProvider) Polled(context.Context, bool) {}

// Applied is part of the ProviderPolicy interface.
func (FixedProvider) Applied(context.Context, queue.BatchInfo) {}

// Failed is part of the ProviderPolicy interface.
func (FixedProvider) Failed(context.Context, queue.BatchInfo, error) {}

// Emission passes applied events on. Both methods run in the apply
// transaction.
type Emission interface {
	// EmitEvents is called with each chunk of events after the handler
	// processed it.
	EmitEvents(ctx context.Context, db database.DBTX, events []*queue.Event) error

	// EmitTick is called once per batch, after every event, including for
	// empty batches.
	EmitTick(ctx context.Context, db database.DBTX, info queue.BatchInfo) error
}

// Terminal is the Emission of a consumer that ends the event flow.
type Terminal struct{}

// EmitEvents is part of the Emission interface.
func (Terminal) EmitEvents(context.Context, database.DBTX, []*queue.Event) error { return nil }

// EmitTick is part of the Emission interface.
func (Terminal) EmitTick(context.Context, database.DBTX, queue.BatchInfo) error { return nil }
