// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue

import (
	"fmt"
	"time"
)

type outcomeKind int

const (
	unacknowledged outcomeKind = iota
	done
	retry
)

// Outcome is what a handler reports for a single event. The zero value
// means the event was not acknowledged, which aborts the batch.
type Outcome struct {
	kind  outcomeKind
	delay time.Duration
}

// Done reports that the event was fully processed.
func Done() Outcome {
	return Outcome{kind: done}
}

// RetryAfter reports that the event should be redelivered in a later batch,
// no sooner than delay from now.
func RetryAfter(delay time.Duration) Outcome {
	return Outcome{kind: retry, delay: delay}
}

// Acknowledged is true for Done and RetryAfter outcomes.
func (o Outcome) Acknowledged() bool {
	return o.kind != unacknowledged
}

// IsRetry reports whether the event must be sent to the retry queue, and
// with which delay.
func (o Outcome) IsRetry() (time.Duration, bool) {
	return o.delay, o.kind == retry
}

// String is used in log lines.
func (o Outcome) String() string {
	switch o.kind {
	case done:
		return "done"
	case retry:
		return fmt.Sprintf("retry after %v", o.delay)
	}
	return "unacknowledged"
}
