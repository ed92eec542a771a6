// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue

import "github.com/juju/errors"

const (
	// ErrPositionConflict is returned when the server and the client no
	// longer agree on the consumer position. It is fatal: an operator has to
	// reset the consumer.
	ErrPositionConflict = errors.ConstError("consumer position conflict")

	// ErrUnacknowledged is returned when a batch would be finished while one
	// of its events has not been acknowledged.
	ErrUnacknowledged = errors.ConstError("event not acknowledged")

	// ErrOutOfOrder is returned when events of a batch are not delivered in
	// strictly increasing id order.
	ErrOutOfOrder = errors.ConstError("event out of order")
)
