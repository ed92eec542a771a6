// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package export

import (
	"context"
)

// Publisher sends messages to a broker.
type Publisher interface {
	// Publish sends payload under key. It returns once the broker has
	// acknowledged the message.
	Publish(ctx context.Context, key string, payload []byte) error

	// Close releases the broker connection.
	Close() error
}
