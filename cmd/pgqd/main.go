// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// pgqd runs the ticker and maintenance of the queues in one database.
package main

import (
	"os"

	"github.com/canonical/pgqueue/internal/cmd/jobcmd"
	"github.com/canonical/pgqueue/internal/config"
	"github.com/canonical/pgqueue/internal/runner"
)

const doc = `
pgqd keeps the queues of one database moving. It creates ticks so that
consumers can read batches, rotates event tables once every consumer has
moved past them, and retries events whose retry time has come.
`

func main() {
	os.Exit(jobcmd.Main(jobcmd.Service{
		Name:    "pgqd",
		Purpose: "Tick and maintain the queues of a database",
		Doc:     doc,
		Keys: []string{
			config.DB,
			config.TickerPollPeriod,
			config.TickerLogDelay,
			config.MaintDelay,
		},
		Factory: runner.Ticker(),
	}))
}
