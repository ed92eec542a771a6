// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// queue-exporter publishes the events of a queue to a message broker.
package main

import (
	"os"

	"github.com/canonical/pgqueue/internal/cmd/jobcmd"
	"github.com/canonical/pgqueue/internal/config"
	_ "github.com/canonical/pgqueue/internal/export"
	"github.com/canonical/pgqueue/internal/runner"
)

const doc = `
queue-exporter consumes queue_name in src_db and publishes every event to
kafka or amqp, as set by export_type. A batch is finished once the broker
has acknowledged all its events, so events may be published twice after a
failure but are never lost.
`

func main() {
	os.Exit(jobcmd.Main(jobcmd.Service{
		Name:    "queue_exporter",
		Purpose: "Publish the events of a queue to a message broker",
		Doc:     doc,
		Keys: []string{
			config.QueueName,
			config.ConsumerName,
			config.SrcDB,
			config.ExportType,
			config.QueueField,
			config.KafkaBrokers,
			config.KafkaTopic,
			config.AMQPURL,
			config.AMQPExchange,
			config.ConsumerFilter,
			config.LazyFetch,
		},
		Factory: runner.Consumer("export"),
	}))
}
