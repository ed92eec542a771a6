// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

// Event is a single queue event, as returned by pgq.get_batch_events.
type Event struct {
	// ID is the monotonically assigned event id.
	ID int64
	// BatchID is the batch the event was delivered in.
	BatchID int64
	// Time is the wall clock time assigned by the producer.
	Time time.Time
	// TxID is the id of the producing transaction.
	TxID int64
	// Retry is the number of times the event has been retried.
	Retry int
	// Type is the event type tag, conventionally I:pk, U:pk or D:pk for
	// row events. The engine treats it as opaque.
	Type string
	// Data is the primary payload.
	Data string

	// Extra1 to Extra4 are the auxiliary payloads. A nil value is SQL NULL.
	Extra1 *string
	Extra2 *string
	Extra3 *string
	Extra4 *string

	done bool
}

// TagDone marks the event as processed. Once set the flag never clears.
func (e *Event) TagDone() {
	e.done = true
}

// Done reports whether the event has been marked as processed.
func (e *Event) Done() bool {
	return e.done
}

// Extra returns the value of the nth auxiliary payload (1 to 4) and
// whether it is set.
func (e *Event) Extra(n int) (string, bool) {
	var v *string
	switch n {
	case 1:
		v = e.Extra1
	case 2:
		v = e.Extra2
	case 3:
		v = e.Extra3
	case 4:
		v = e.Extra4
	}
	if v == nil {
		return "", false
	}
	return *v, true
}

// Field returns a named event attribute. Both the short names (type, data,
// extra1 .. extra4) and the column names (ev_type, ev_data, ev_extra1 ..
// ev_extra4) are accepted. A NULL extra field is returned as the empty
// string.
func (e *Event) Field(name string) (string, error) {
	switch name {
	case "type", "ev_type":
		return e.Type, nil
	case "data", "ev_data":
		return e.Data, nil
	case "extra1", "ev_extra1":
		return deref(e.Extra1), nil
	case "extra2", "ev_extra2":
		return deref(e.Extra2), nil
	case "extra3", "ev_extra3":
		return deref(e.Extra3), nil
	case "extra4", "ev_extra4":
		return deref(e.Extra4), nil
	}
	return "", errors.NotFoundf("event field %q", name)
}

// ValidField reports whether name can be passed to Field.
func ValidField(name string) bool {
	var e Event
	_, err := e.Field(name)
	return err == nil
}

// String is used in log lines.
func (e *Event) String() string {
	return fmt.Sprintf("event %d (batch %d, type %q)", e.ID, e.BatchID, e.Type)
}

// Str returns a pointer to s, handy when building events by hand.
func Str(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
