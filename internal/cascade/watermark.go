// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cascade

// Watermark tracks the watermark a node reports upstream. It never moves
// backwards, including across restarts when seeded from the value the
// provider last recorded for the node.
type Watermark struct {
	value int64
}

// NewWatermark returns a tracker starting at the value already reported.
func NewWatermark(reported int64) *Watermark {
	return &Watermark{value: reported}
}

// Value returns the current watermark.
func (w *Watermark) Value() int64 {
	return w.value
}

// Advance computes the watermark for a node that applied up to applied and
// whose direct subscribers reported subscribers. Every subscriber counts:
// one that has not reported yet (zero) holds the watermark where it is. It
// returns the new value and whether it moved.
func (w *Watermark) Advance(applied int64, subscribers []int64) (int64, bool) {
	candidate := applied
	for _, s := range subscribers {
		if s <= 0 {
			return w.value, false
		}
		if s < candidate {
			candidate = s
		}
	}
	if candidate <= w.value {
		return w.value, false
	}
	w.value = candidate
	return candidate, true
}
