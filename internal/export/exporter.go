// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package export

import (
	"context"

	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
)

// Exporter is a consumer handler publishing every event.
type Exporter struct {
	// QueueName is recorded in every message.
	QueueName string
	// KeyField names the event field used as message key, if any.
	KeyField  string
	Publisher Publisher
}

// NewExporter returns an exporter publishing through publisher.
func NewExporter(queueName, keyField string, publisher Publisher) (*Exporter, error) {
	if publisher == nil {
		return nil, errors.NotValidf("nil Publisher")
	}
	if keyField != "" && !queue.ValidField(keyField) {
		return nil, errors.NotValidf("key field %q", keyField)
	}
	return &Exporter{
		QueueName: queueName,
		KeyField:  keyField,
		Publisher: publisher,
	}, nil
}

// ProcessEvent is part of the consumer.Handler interface. Exported events
// never touch a database.
func (e *Exporter) ProcessEvent(ctx context.Context, _ database.DBTX, ev *queue.Event) (queue.Outcome, error) {
	payload, err := NewMessage(e.QueueName, ev).Encode()
	if err != nil {
		return queue.Outcome{}, errors.Trace(err)
	}
	var key string
	if e.KeyField != "" {
		if key, err = ev.Field(e.KeyField); err != nil {
			return queue.Outcome{}, errors.Trace(err)
		}
	}
	if err := e.Publisher.Publish(ctx, key, payload); err != nil {
		return queue.Outcome{}, errors.Annotatef(err, "exporting %s", ev)
	}
	return queue.Done(), nil
}

// Close closes the publisher.
func (e *Exporter) Close() error {
	return e.Publisher.Close()
}
