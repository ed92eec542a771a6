// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// cascade-worker runs one node of a cascaded queue.
package main

import (
	"os"

	"github.com/canonical/pgqueue/internal/cmd/jobcmd"
	"github.com/canonical/pgqueue/internal/config"
	_ "github.com/canonical/pgqueue/internal/export"
	_ "github.com/canonical/pgqueue/internal/forwarder"
	"github.com/canonical/pgqueue/internal/runner"
)

const doc = `
cascade-worker runs the node of queue_name found in db. On the root it
publishes the global watermark. On branches and leaves it copies batches
from the provider node, applying them through handler when one is set, and
on branches it also re-inserts the events into the local queue.

--pause stops the worker of the node after its current batch and --resume
starts it again; the running process does not need to be signalled.
`

func main() {
	os.Exit(jobcmd.Main(jobcmd.Service{
		Name:    "cascade_worker",
		Purpose: "Run a node of a cascaded queue",
		Doc:     doc,
		Keys: []string{
			config.QueueName,
			config.DB,
			config.Handler,
			config.ConsumerFilter,
			config.LazyFetch,
			config.WatermarkPeriod,
		},
		Factory: runner.Cascade(),
	}))
}
