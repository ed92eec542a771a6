// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package consumer drives batches from a PgQ queue through a handler.
//
// An Engine is assembled from three capabilities:
//
//   - a ProviderPolicy, which decides where batches come from and whether
//     to poll at all (FixedProvider, or the cascade policy);
//   - an AckStrategy, which decides how the consumer position is made
//     durable (PerBatch, or InTxn for exactly once apply);
//   - an Emission, which decides whether applied events are passed on
//     (Terminal, or the cascade re-emitter).
//
// The Worker runs an Engine in a loop until it is killed. Between batches
// it applies reload requests and flushes statistics.
package consumer
