// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package queue holds the client side view of a PgQ queue: events, the
// batches that group them and the outcome a handler reports for each event.
//
// A batch is the set of events between two consecutive ticks of a queue.
// Events inside a batch are delivered in event id order, and batch ids for a
// given queue/consumer pair are strictly increasing.
package queue
