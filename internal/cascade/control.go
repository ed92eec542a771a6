// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cascade

import (
	"context"
	"strconv"
	"strings"

	"github.com/juju/errors"

	corecascade "github.com/canonical/pgqueue/core/cascade"
	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/consumer"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// Control event types.
const (
	EventLocationInfo       = "pgq.location-info"
	EventUnregisterLocation = "pgq.unregister-location"
	EventGlobalWatermark    = "pgq.global-watermark"
	EventTickID             = "pgq.tick-id"
)

// IsControlEvent reports whether ev carries cascade metadata rather than
// data.
func IsControlEvent(ev *queue.Event) bool {
	return strings.HasPrefix(ev.Type, "pgq.")
}

// ControlHandler applies cascade control events to the local node
// metadata, in the apply transaction, and passes every other event to
// Next. A nil Next acknowledges data events without doing anything, which
// is what a pure branch wants: the events are only copied.
type ControlHandler struct {
	QueueName string
	Role      corecascade.NodeRole
	Next      consumer.Handler
	Logger    consumer.Logger
}

// ProcessEvent is part of the consumer.Handler interface.
func (h *ControlHandler) ProcessEvent(ctx context.Context, db database.DBTX, ev *queue.Event) (queue.Outcome, error) {
	if !IsControlEvent(ev) {
		if h.Next == nil {
			return queue.Done(), nil
		}
		return h.Next.ProcessEvent(ctx, db, ev)
	}
	if db == nil {
		return queue.Outcome{}, errors.NotValidf("control event %d without a node database", ev.ID)
	}

	switch ev.Type {
	case EventLocationInfo:
		loc := corecascade.Location{
			NodeName: ev.Data,
			ConnStr:  stringOrEmpty(ev.Extra1),
			Dead:     parseBool(stringOrEmpty(ev.Extra2)),
		}
		if err := pgq.RegisterLocation(ctx, db, h.QueueName, loc); err != nil {
			return queue.Outcome{}, errors.Trace(err)
		}

	case EventUnregisterLocation:
		err := pgq.UnregisterLocation(ctx, db, h.QueueName, ev.Data)
		if err != nil && !errors.Is(err, errors.NotFound) {
			return queue.Outcome{}, errors.Trace(err)
		}

	case EventGlobalWatermark:
		if h.Role == corecascade.Root {
			break
		}
		wm, err := strconv.ParseInt(ev.Data, 10, 64)
		if err != nil {
			return queue.Outcome{}, errors.NotValidf("global watermark %q", ev.Data)
		}
		if err := pgq.SetGlobalWatermarkTo(ctx, db, h.QueueName, wm); err != nil {
			return queue.Outcome{}, errors.Trace(err)
		}

	case EventTickID:
		// Informational only.

	default:
		h.Logger.Warningf("ignoring unknown control event %s", ev)
	}
	return queue.Done(), nil
}

// BeginBatch is part of the consumer.BatchHandler interface.
func (h *ControlHandler) BeginBatch(ctx context.Context, db database.DBTX, info queue.BatchInfo) error {
	if bh, ok := h.Next.(consumer.BatchHandler); ok {
		return bh.BeginBatch(ctx, db, info)
	}
	return nil
}

// EndBatch is part of the consumer.BatchHandler interface.
func (h *ControlHandler) EndBatch(ctx context.Context, db database.DBTX, info queue.BatchInfo) error {
	if bh, ok := h.Next.(consumer.BatchHandler); ok {
		return bh.EndBatch(ctx, db, info)
	}
	return nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "t", "true", "1", "yes", "on":
		return true
	}
	return false
}
