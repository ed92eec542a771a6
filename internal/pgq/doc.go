// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pgq wraps the server side PgQ functions (pgq, pgq_ext and
// pgq_node schemas) in typed Go calls. Every function takes the statement
// interface it runs on, so callers choose between autocommit and running
// inside their own transaction.
//
// The package holds no state and no retry logic.
package pgq
