// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/internal/database/txn"
)

// Logger represents the methods used by the registry for logging.
type Logger interface {
	Debugf(string, ...interface{})
	Warningf(string, ...interface{})
}

// Resolver maps a logical connection name (db, src_db, dst_db, ...) to a
// DSN.
type Resolver func(name string) (string, error)

// StaticResolver resolves names from a fixed map.
func StaticResolver(dsns map[string]string) Resolver {
	return func(name string) (string, error) {
		dsn, ok := dsns[name]
		if !ok || dsn == "" {
			return "", errors.NotFoundf("connection %q", name)
		}
		return dsn, nil
	}
}

// RegistryConfig holds the dependencies of a Registry.
type RegistryConfig struct {
	Resolver Resolver
	Open     OpenFunc
	Clock    clock.Clock
	Logger   Logger

	// Lifetime, if non zero, is how long a connection is kept before it is
	// closed and reopened by the next Get.
	Lifetime time.Duration
}

// Validate returns an error if the config cannot drive a Registry.
func (c RegistryConfig) Validate() error {
	if c.Resolver == nil {
		return errors.NotValidf("nil Resolver")
	}
	if c.Open == nil {
		return errors.NotValidf("nil Open")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Lifetime < 0 {
		return errors.NotValidf("negative Lifetime")
	}
	return nil
}

// Registry hands out named, lazily opened connections. It holds no retry
// logic: when a handle reports a transport error it is dropped, and the next
// Get opens a fresh connection.
//
// A registry is meant to be owned by a single loop. Processes running more
// than one loop (the ticker) give each loop its own registry.
type Registry struct {
	mu      sync.Mutex
	config  RegistryConfig
	handles map[string]*Handle
	pinned  map[string]string
}

// NewRegistry returns a registry with no open connections.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Registry{
		config:  config,
		handles: make(map[string]*Handle),
		pinned:  make(map[string]string),
	}, nil
}

// Option configures the policy of a handle.
type Option func(*policy)

type policy struct {
	autocommit bool
	isolation  pgx.TxIsoLevel
}

// Autocommit requests statement level commit for the handle.
func Autocommit() Option {
	return func(p *policy) {
		p.autocommit = true
	}
}

// Isolation sets the isolation level of transactions started on the handle.
func Isolation(level pgx.TxIsoLevel) Option {
	return func(p *policy) {
		p.isolation = level
	}
}

// Get returns the handle for name, opening a connection if there is none
// yet, if the previous one was closed or if it outlived the configured
// lifetime.
func (r *Registry) Get(ctx context.Context, name string, opts ...Option) (*Handle, error) {
	p := policy{isolation: pgx.ReadCommitted}
	for _, opt := range opts {
		opt(&p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		switch {
		case h.conn.IsClosed():
			r.config.Logger.Debugf("connection %q was closed, reopening", name)
			delete(r.handles, name)
		case r.expired(h):
			r.config.Logger.Debugf("connection %q outlived its lifetime, reopening", name)
			r.closeLocked(ctx, h)
		default:
			h.policy = p
			return h, nil
		}
	}

	dsn, err := r.resolve(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	conn, err := r.config.Open(ctx, dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %q", name)
	}
	h := &Handle{
		registry: r,
		name:     name,
		dsn:      dsn,
		conn:     conn,
		policy:   p,
		opened:   r.config.Clock.Now(),
	}
	r.handles[name] = h
	return h, nil
}

// Reset closes and forgets the connection for name.
func (r *Registry) Reset(ctx context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		r.closeLocked(ctx, h)
	}
}

// Reload switches to a new resolver and closes every connection whose DSN
// changed. Connections whose DSN is unchanged stay open.
func (r *Registry) Reload(ctx context.Context, resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.config.Resolver = resolver
	for name, h := range r.handles {
		dsn, err := r.resolve(name)
		if err == nil && dsn == h.dsn {
			continue
		}
		r.config.Logger.Debugf("connection %q changed on reload, closing", name)
		r.closeLocked(ctx, h)
	}
}

// Pin makes name resolve to dsn regardless of the resolver. Cascaded
// workers use it for provider connections, whose location comes from the
// node metadata rather than from configuration. An open connection to a
// different DSN is closed.
func (r *Registry) Pin(ctx context.Context, name, dsn string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pinned[name] = dsn
	if h, ok := r.handles[name]; ok && h.dsn != dsn {
		r.config.Logger.Debugf("connection %q moved, closing", name)
		r.closeLocked(ctx, h)
	}
}

func (r *Registry) resolve(name string) (string, error) {
	if dsn, ok := r.pinned[name]; ok {
		return dsn, nil
	}
	return r.config.Resolver(name)
}

// SetLifetime changes the maximum connection lifetime.
func (r *Registry) SetLifetime(lifetime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Lifetime = lifetime
}

// Names returns the names of the open connections, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every connection.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handles {
		r.closeLocked(ctx, h)
	}
}

func (r *Registry) expired(h *Handle) bool {
	if r.config.Lifetime == 0 {
		return false
	}
	return r.config.Clock.Now().Sub(h.opened) >= r.config.Lifetime
}

func (r *Registry) closeLocked(ctx context.Context, h *Handle) {
	if err := h.conn.Close(ctx); err != nil {
		r.config.Logger.Warningf("closing connection %q: %v", h.name, err)
	}
	if r.handles[h.name] == h {
		delete(r.handles, h.name)
	}
}

// Handle is a named connection with its commit policy.
type Handle struct {
	registry *Registry
	name     string
	dsn      string
	conn     Conn
	policy   policy
	opened   time.Time
}

// Name returns the logical name of the connection.
func (h *Handle) Name() string {
	return h.name
}

// Autocommit reports whether the handle runs statements in autocommit mode.
func (h *Handle) Autocommit() bool {
	return h.policy.autocommit
}

// Exec is part of the DBTX interface. Statements run outside an explicit
// transaction commit on their own.
func (h *Handle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return h.conn.Exec(ctx, sql, args...)
}

// Query is part of the DBTX interface.
func (h *Handle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return h.conn.Query(ctx, sql, args...)
}

// QueryRow is part of the DBTX interface.
func (h *Handle) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return h.conn.QueryRow(ctx, sql, args...)
}

// Begin starts a transaction with the isolation level of the handle.
func (h *Handle) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := h.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: h.policy.isolation})
	if err != nil {
		return nil, h.Check(ctx, err)
	}
	return tx, nil
}

// Check inspects an error returned while using the handle. Transport errors
// drop the handle from its registry, so the next Get reconnects. The error
// is returned unchanged.
func (h *Handle) Check(ctx context.Context, err error) error {
	if !txn.IsTransportError(err) {
		return err
	}

	r := h.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[h.name] == h {
		r.config.Logger.Warningf("dropping connection %q after transport error: %v", h.name, err)
		r.closeLocked(context.WithoutCancel(ctx), h)
	}
	return err
}
