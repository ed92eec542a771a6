// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue

import (
	"context"
	"fmt"
	"io"
	"time"
)

// BatchInfo describes a batch handed out by pgq.next_batch_info.
type BatchInfo struct {
	BatchID int64

	// PrevTickID and TickID delimit the batch.
	PrevTickID int64
	TickID     int64

	PrevTickTime time.Time
	TickTime     time.Time

	// EventSeq is the event sequence value recorded with the closing tick.
	// Cascaded branches need it to reproduce the tick locally.
	EventSeq int64
}

// String is used in log lines.
func (b BatchInfo) String() string {
	return fmt.Sprintf("batch %d (ticks %d..%d)", b.BatchID, b.PrevTickID, b.TickID)
}

// EventReader yields the events of one batch in event id order, a chunk at a
// time. Next returns io.EOF once the batch is exhausted.
type EventReader interface {
	Next(ctx context.Context) ([]*Event, error)
	Close(ctx context.Context) error
}

// SliceReader is an EventReader over a materialised batch.
type SliceReader struct {
	events []*Event
	chunk  int
}

// NewSliceReader returns a reader yielding events in chunks of the given
// size. A chunk size <= 0 yields all events at once.
func NewSliceReader(events []*Event, chunk int) *SliceReader {
	return &SliceReader{events: events, chunk: chunk}
}

// Next is part of the EventReader interface.
func (r *SliceReader) Next(context.Context) ([]*Event, error) {
	if len(r.events) == 0 {
		return nil, io.EOF
	}
	n := len(r.events)
	if r.chunk > 0 && r.chunk < n {
		n = r.chunk
	}
	out := r.events[:n]
	r.events = r.events[n:]
	return out, nil
}

// Close is part of the EventReader interface.
func (r *SliceReader) Close(context.Context) error {
	r.events = nil
	return nil
}
