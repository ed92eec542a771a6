// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package export publishes queue events to an external broker. The
// Exporter handler encodes every event as JSON and hands it to a
// Publisher; a publish only returns once the broker has acknowledged the
// message, so a batch is finished only after all of its events are safely
// stored elsewhere. A crash in between publishes the batch again.
//
// Importing the package registers the handler as "export".
package export
