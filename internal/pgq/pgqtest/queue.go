// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgqtest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
)

// Retry is an event put into the retry queue.
type Retry struct {
	BatchID int64
	EventID int64
	Delay   time.Duration
}

type batch struct {
	info     queue.BatchInfo
	events   []*queue.Event
	finished bool
}

// Queue is an in-memory queue with a single consumer. It hands out the
// oldest unfinished batch until that batch is finished, the way
// pgq.next_batch_info does.
type Queue struct {
	mu sync.Mutex

	tickTime time.Time
	batches  []*batch
	retries  []Retry

	registered bool
	chunk      int
	nextID     int64

	failBefore map[string][]error
	failAfter  map[string][]error
	calls      []string
}

// NewQueue returns an empty queue whose ticks start at tickTime.
func NewQueue(tickTime time.Time) *Queue {
	return &Queue{
		tickTime:   tickTime,
		registered: true,
		nextID:     1,
		failBefore: make(map[string][]error),
		failAfter:  make(map[string][]error),
	}
}

// SetChunk makes OpenBatch return readers yielding n events at a time.
func (q *Queue) SetChunk(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunk = n
}

// StartAt makes the next added batch get id.
func (q *Queue) StartAt(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID = id
}

// AddBatch appends a batch closed by tick. Batch ids are assigned in
// order, starting at 1 unless StartAt said otherwise. Event batch ids are
// set to match.
func (q *Queue) AddBatch(tick int64, events ...*queue.Event) queue.BatchInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextID
	q.nextID++
	var prev int64
	if n := len(q.batches); n > 0 {
		prev = q.batches[n-1].info.TickID
	}
	for _, ev := range events {
		ev.BatchID = id
	}
	info := queue.BatchInfo{
		BatchID:      id,
		PrevTickID:   prev,
		TickID:       tick,
		PrevTickTime: q.tickTime.Add(time.Duration(prev) * time.Second),
		TickTime:     q.tickTime.Add(time.Duration(tick) * time.Second),
		EventSeq:     int64(len(events)),
	}
	q.batches = append(q.batches, &batch{info: info, events: events})
	return info
}

// Events returns n events with ids from first on.
func Events(first int64, n int) []*queue.Event {
	events := make([]*queue.Event, n)
	for i := range events {
		id := first + int64(i)
		events[i] = &queue.Event{ID: id, TxID: 1000 + id, Type: "I:id", Data: "id=" + strconv.FormatInt(id, 10)}
	}
	return events
}

// FailBefore makes the next call of op fail with err without any effect.
// Ops are NextBatch, OpenBatch, Next, RetryEvent and FinishBatch.
func (q *Queue) FailBefore(op string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failBefore[op] = append(q.failBefore[op], err)
}

// FailAfter makes the next call of op take effect and then fail with err,
// as when the reply is lost.
func (q *Queue) FailAfter(op string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failAfter[op] = append(q.failAfter[op], err)
}

func (q *Queue) injected(m map[string][]error, op string) error {
	errs := m[op]
	if len(errs) == 0 {
		return nil
	}
	m[op] = errs[1:]
	return errs[0]
}

// Redeliver marks the last finished batch unfinished again, so it is
// handed out a second time.
func (q *Queue) Redeliver() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.batches) - 1; i >= 0; i-- {
		if q.batches[i].finished {
			q.batches[i].finished = false
			return
		}
	}
}

// Drop unregisters the consumer behind its back, as an operator would.
func (q *Queue) Drop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registered = false
}

// Finished returns the ids of the finished batches.
func (q *Queue) Finished() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []int64
	for _, b := range q.batches {
		if b.finished {
			ids = append(ids, b.info.BatchID)
		}
	}
	return ids
}

// Retries returns the events put into the retry queue.
func (q *Queue) Retries() []Retry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Retry(nil), q.retries...)
}

// Calls returns the names of the operations called so far.
func (q *Queue) Calls() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.calls...)
}

func (q *Queue) enter(op string) error {
	q.calls = append(q.calls, op)
	return q.injected(q.failBefore, op)
}

func (q *Queue) current() *batch {
	for _, b := range q.batches {
		if !b.finished {
			return b
		}
	}
	return nil
}

// NextBatch is part of the consumer.Source interface.
func (q *Queue) NextBatch(context.Context) (queue.BatchInfo, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.enter("NextBatch"); err != nil {
		return queue.BatchInfo{}, false, err
	}
	if !q.registered {
		return queue.BatchInfo{}, false, errors.Annotate(queue.ErrPositionConflict, "Not subscriber to queue")
	}
	b := q.current()
	if err := q.injected(q.failAfter, "NextBatch"); err != nil {
		return queue.BatchInfo{}, false, err
	}
	if b == nil {
		return queue.BatchInfo{}, false, nil
	}
	return b.info, true, nil
}

// OpenBatch is part of the consumer.Source interface. The reader hands out
// copies of the events, so each delivery starts with clean done flags.
func (q *Queue) OpenBatch(_ context.Context, info queue.BatchInfo) (queue.EventReader, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.enter("OpenBatch"); err != nil {
		return nil, err
	}
	b := q.find(info.BatchID)
	if b == nil {
		return nil, errors.NotFoundf("batch %d", info.BatchID)
	}
	events := make([]*queue.Event, len(b.events))
	for i, ev := range b.events {
		cp := *ev
		events[i] = &cp
	}
	return &reader{q: q, inner: queue.NewSliceReader(events, q.chunk)}, nil
}

type reader struct {
	q      *Queue
	inner  *queue.SliceReader
	closed bool
}

func (r *reader) Next(ctx context.Context) ([]*queue.Event, error) {
	r.q.mu.Lock()
	err := r.q.enter("Next")
	r.q.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.inner.Next(ctx)
}

func (r *reader) Close(ctx context.Context) error {
	r.closed = true
	return r.inner.Close(ctx)
}

func (q *Queue) find(id int64) *batch {
	for _, b := range q.batches {
		if b.info.BatchID == id {
			return b
		}
	}
	return nil
}

// RetryEvent is part of the consumer.Source interface. Retrying the same
// event of a batch twice is a no-op, as with pgq.event_retry.
func (q *Queue) RetryEvent(_ context.Context, batchID, eventID int64, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.enter("RetryEvent"); err != nil {
		return err
	}
	dup := false
	for _, r := range q.retries {
		if r.BatchID == batchID && r.EventID == eventID {
			dup = true
		}
	}
	if !dup {
		q.retries = append(q.retries, Retry{BatchID: batchID, EventID: eventID, Delay: delay})
	}
	return q.injected(q.failAfter, "RetryEvent")
}

// FinishBatch is part of the consumer.Source interface.
func (q *Queue) FinishBatch(_ context.Context, batchID int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.enter("FinishBatch"); err != nil {
		return false, err
	}
	b := q.find(batchID)
	known := b != nil && !b.finished
	if known {
		b.finished = true
	}
	if err := q.injected(q.failAfter, "FinishBatch"); err != nil {
		return false, err
	}
	return known, nil
}

// Register is part of the consumer.Source interface.
func (q *Queue) Register(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registered = true
	return q.enter("Register")
}

// Unregister is part of the consumer.Source interface.
func (q *Queue) Unregister(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registered = false
	return q.enter("Unregister")
}
