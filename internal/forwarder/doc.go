// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package forwarder holds the queue to queue handlers. The mover copies
// every event of a batch into one destination queue; the splitter routes
// each event to the queue named by one of its fields. Both write in the
// destination transaction, with a single bulk insert per queue, so the
// forwarded events become visible together with the consumer position.
//
// Importing the package registers the handlers as "mover" and "splitter".
package forwarder
