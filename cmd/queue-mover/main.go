// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// queue-mover copies the events of one queue into a queue of another
// database.
package main

import (
	"os"

	"github.com/canonical/pgqueue/internal/cmd/jobcmd"
	"github.com/canonical/pgqueue/internal/config"
	_ "github.com/canonical/pgqueue/internal/forwarder"
	"github.com/canonical/pgqueue/internal/runner"
)

const doc = `
queue-mover consumes queue_name in src_db and inserts every event into
dst_queue_name in dst_db. Each batch is inserted and marked done in the same
destination transaction, so a batch is never moved twice.
`

func main() {
	os.Exit(jobcmd.Main(jobcmd.Service{
		Name:    "queue_mover",
		Purpose: "Move events from a queue into another database",
		Doc:     doc,
		Keys: []string{
			config.QueueName,
			config.ConsumerName,
			config.SrcDB,
			config.DstDB,
			config.DstQueueName,
			config.ConsumerFilter,
			config.LazyFetch,
			config.IsolationLevel,
		},
		Factory: runner.Serial("mover"),
	}))
}
