// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cascade implements the node side of a cascaded queue: following
// a provider, switching providers on request, copying events and ticks
// into the local queue, applying control events and reporting watermarks.
//
// A branch worker is a consumer.Engine built from Policy, consumer.InTxn
// with a NodeCursor, ReEmit and a ControlHandler. A leaf uses
// consumer.Terminal instead of ReEmit. A root does not consume at all; it
// runs a RootWorker publishing the global watermark.
package cascade
