// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package runner

import (
	"context"

	"github.com/juju/errors"

	corecascade "github.com/canonical/pgqueue/core/cascade"
	"github.com/canonical/pgqueue/internal/config"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// Status returns what the queue database holds about the consumer the
// configuration describes. A plain consumer is looked up in src_db; the
// worker of a cascade node is looked up on its provider.
func Status(ctx context.Context, p Params) (pgq.ConsumerInfo, error) {
	if err := p.Validate(); err != nil {
		return pgq.ConsumerInfo{}, errors.Trace(err)
	}
	cfg := p.Config
	if err := cfg.Require(config.QueueName); err != nil {
		return pgq.ConsumerInfo{}, errors.Trace(err)
	}
	conns, err := newRegistry(p)
	if err != nil {
		return pgq.ConsumerInfo{}, errors.Trace(err)
	}
	defer conns.Close(context.Background())

	queueName := cfg.String(config.QueueName)
	if cfg.String(config.SrcDB) != "" {
		return consumerInfo(ctx, conns, config.SrcDB, queueName, cfg.ConsumerName())
	}

	if err := cfg.Require(config.DB); err != nil {
		return pgq.ConsumerInfo{}, errors.Trace(err)
	}
	local, err := conns.Get(ctx, config.DB, database.Autocommit())
	if err != nil {
		return pgq.ConsumerInfo{}, unreachable("reading node info", err)
	}
	workerName, err := nodeWorker(ctx, cfg, local)
	if err != nil {
		return pgq.ConsumerInfo{}, unreachable("reading node info", local.Check(ctx, err))
	}
	state, err := pgq.GetConsumerState(ctx, local, queueName, workerName)
	if err != nil {
		return pgq.ConsumerInfo{}, unreachable("reading worker state", local.Check(ctx, err))
	}
	conns.Pin(ctx, "provider", state.ProviderLocation)
	return consumerInfo(ctx, conns, "provider", queueName, workerName)
}

func consumerInfo(ctx context.Context, conns *database.Registry, dbName, queueName, consumerName string) (pgq.ConsumerInfo, error) {
	h, err := conns.Get(ctx, dbName, database.Autocommit())
	if err != nil {
		return pgq.ConsumerInfo{}, unreachable("reading consumer info", err)
	}
	info, err := pgq.GetConsumerInfo(ctx, h, queueName, consumerName)
	if err != nil {
		return pgq.ConsumerInfo{}, unreachable("reading consumer info", h.Check(ctx, err))
	}
	return info, nil
}

// SetPaused pauses or resumes the worker of the cascade node in db and
// returns its name. A paused worker finishes the batch in hand and then
// holds until resumed.
func SetPaused(ctx context.Context, p Params, paused bool) (string, error) {
	if err := p.Validate(); err != nil {
		return "", errors.Trace(err)
	}
	cfg := p.Config
	if err := cfg.Require(config.QueueName, config.DB); err != nil {
		return "", errors.Trace(err)
	}
	conns, err := newRegistry(p)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer conns.Close(context.Background())

	local, err := conns.Get(ctx, config.DB, database.Autocommit())
	if err != nil {
		return "", unreachable("reading node info", err)
	}
	workerName, err := nodeWorker(ctx, cfg, local)
	if err != nil {
		return "", unreachable("reading node info", local.Check(ctx, err))
	}
	if err := pgq.SetConsumerPaused(ctx, local, cfg.String(config.QueueName), workerName, paused); err != nil {
		return "", unreachable("pausing worker", local.Check(ctx, err))
	}
	return workerName, nil
}

// nodeWorker returns the name of the worker of the cascade node in db.
func nodeWorker(ctx context.Context, cfg *config.Config, db database.DBTX) (string, error) {
	node, err := pgq.GetNodeInfo(ctx, db, cfg.String(config.QueueName))
	if err != nil {
		return "", errors.Trace(err)
	}
	if node.Role == corecascade.Root {
		return "", errors.NotValidf("worker of root node %q", node.NodeName)
	}
	return workerOf(node, cfg), nil
}

// workerOf returns the worker name of node, falling back to the consumer
// name of the configuration.
func workerOf(node corecascade.NodeInfo, cfg *config.Config) string {
	if node.WorkerName != "" {
		return node.WorkerName
	}
	return cfg.ConsumerName()
}
