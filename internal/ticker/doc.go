// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ticker keeps a PgQ database ticking. It runs two independent
// loops: one closes batches by calling pgq.ticker() every poll period,
// the other runs the periodic maintenance steps (table rotation, retry
// queue processing, vacuum). Each loop owns its own connections, so a
// slow vacuum never delays ticks.
package ticker
