// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cascade describes the state of a node taking part in a cascade of
// queues: its role, its provider and the commands an operator has issued to
// it through the node metadata.
package cascade

import (
	"github.com/juju/errors"
)

// NodeRole is the role of a node in the cascade.
type NodeRole string

const (
	// Root nodes own the queue; events are produced there.
	Root NodeRole = "root"
	// Branch nodes copy the events of their provider into a local queue, so
	// further nodes can subscribe to them.
	Branch NodeRole = "branch"
	// Leaf nodes apply events but do not re-emit them.
	Leaf NodeRole = "leaf"
)

// ParseNodeRole parses a role as stored in pgq_node.node_info.
func ParseNodeRole(s string) (NodeRole, error) {
	switch r := NodeRole(s); r {
	case Root, Branch, Leaf:
		return r, nil
	}
	return "", errors.NotValidf("node role %q", s)
}

// HasProvider reports whether nodes of this role consume from a provider.
func (r NodeRole) HasProvider() bool {
	return r == Branch || r == Leaf
}

// ReEmits reports whether nodes of this role copy events into their own
// queue.
func (r NodeRole) ReEmits() bool {
	return r == Branch
}

// Phase is the state a cascaded consumer is in.
type Phase string

const (
	// CatchingUp means batches are available immediately; the node is
	// applying history as fast as it can.
	CatchingUp Phase = "catching-up"
	// Following means the node is up to date and polling.
	Following Phase = "following"
	// Paused means the node accepts no new batches.
	Paused Phase = "paused"
	// SwitchingProvider means the node is moving to a new provider.
	SwitchingProvider Phase = "switching-provider"
	// Syncing means the node holds at a tick requested by an operator.
	Syncing Phase = "syncing"
)

// Location is where a node can be reached.
type Location struct {
	NodeName string
	// ConnStr is a libpq connection string.
	ConnStr string
	Dead    bool
}

// NodeInfo is the local view of a node, from pgq_node.get_node_info.
type NodeInfo struct {
	QueueName string
	NodeName  string
	Role      NodeRole

	ProviderNode     string
	ProviderLocation string

	// WorkerName is the consumer name this node uses on its provider.
	WorkerName string

	// LocalWatermark is the last watermark this node reported upstream.
	LocalWatermark int64
	// GlobalWatermark is the cascade wide retention watermark.
	GlobalWatermark int64
}

// ConsumerState is the state of the node worker, from
// pgq_node.get_consumer_state. It is also the channel through which
// operators issue commands to a running worker.
type ConsumerState struct {
	NodeName string
	Role     NodeRole

	ProviderNode     string
	ProviderLocation string

	Paused   bool
	Uptodate bool

	// CompletedTick is the last tick applied on this node.
	CompletedTick int64

	// PendingProvider, if set, asks the worker to switch to a new provider
	// once it has applied WaitTick.
	PendingProvider         string
	PendingProviderLocation string
	WaitTick                int64

	// SyncTick, if non zero, asks the worker not to move past this tick.
	SyncTick int64

	LastError string
}

// SwitchRequested reports whether an operator asked for a provider switch.
func (s ConsumerState) SwitchRequested() bool {
	return s.PendingProvider != "" && s.PendingProvider != s.ProviderNode
}
