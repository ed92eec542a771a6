// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// queue-splitter spreads the events of one queue over the queues named by
// an event field.
package main

import (
	"os"

	"github.com/canonical/pgqueue/internal/cmd/jobcmd"
	"github.com/canonical/pgqueue/internal/config"
	_ "github.com/canonical/pgqueue/internal/forwarder"
	"github.com/canonical/pgqueue/internal/runner"
)

const doc = `
queue-splitter consumes queue_name in src_db and inserts every event into
the queue of dst_db named by its queue_field. Each batch is inserted and
marked done in the same destination transaction.
`

func main() {
	os.Exit(jobcmd.Main(jobcmd.Service{
		Name:    "queue_splitter",
		Purpose: "Split the events of a queue over destination queues",
		Doc:     doc,
		Keys: []string{
			config.QueueName,
			config.ConsumerName,
			config.SrcDB,
			config.DstDB,
			config.QueueField,
			config.ConsumerFilter,
			config.LazyFetch,
			config.IsolationLevel,
		},
		Factory: runner.Serial("splitter"),
	}))
}
