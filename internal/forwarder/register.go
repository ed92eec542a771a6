// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package forwarder

import (
	"github.com/canonical/pgqueue/internal/consumer"
)

// Setting keys read by the handler factories.
const (
	DstQueueKey   = "dst_queue_name"
	QueueFieldKey = "queue_field"
)

func init() {
	consumer.RegisterHandler("mover", func(settings consumer.Settings) (consumer.Handler, error) {
		return NewMover(settings.String(DstQueueKey))
	})
	consumer.RegisterHandler("splitter", func(settings consumer.Settings) (consumer.Handler, error) {
		return NewSplitter(settings.String(QueueFieldKey))
	})
}
