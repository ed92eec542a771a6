// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package runner

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	corecascade "github.com/canonical/pgqueue/core/cascade"
	"github.com/canonical/pgqueue/internal/cascade"
	"github.com/canonical/pgqueue/internal/config"
	"github.com/canonical/pgqueue/internal/consumer"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

// Cascade returns a Factory for the worker of a cascade node. The node in
// db decides what runs: a root publishes the global watermark, a branch
// applies and re-emits its provider's batches, and a leaf applies them.
// If the configuration names a handler, data events go through it.
func Cascade() Factory {
	return func(ctx context.Context, p Params) (Service, error) {
		if err := p.Validate(); err != nil {
			return nil, errors.Trace(err)
		}
		if err := p.Config.Require(config.QueueName, config.DB); err != nil {
			return nil, errors.Trace(err)
		}
		conns, err := newRegistry(p)
		if err != nil {
			return nil, errors.Trace(err)
		}
		svc, err := startCascade(ctx, p, conns)
		if err != nil {
			conns.Close(context.Background())
			return nil, errors.Trace(err)
		}
		return svc, nil
	}
}

func startCascade(ctx context.Context, p Params, conns *database.Registry) (Service, error) {
	cfg := p.Config
	queueName := cfg.String(config.QueueName)

	var node corecascade.NodeInfo
	if err := reach(ctx, p, "reading node info", func() error {
		h, err := conns.Get(ctx, config.DB, database.Autocommit())
		if err != nil {
			return errors.Trace(err)
		}
		node, err = pgq.GetNodeInfo(ctx, h, queueName)
		return h.Check(ctx, err)
	}); err != nil {
		return nil, errors.Trace(err)
	}
	p.Logger.Infof("node %q is a %s of queue %q", node.NodeName, node.Role, queueName)

	if node.Role == corecascade.Root {
		return startRoot(p, conns)
	}

	workerName := workerOf(node, cfg)

	var next consumer.Handler
	if name := cfg.String(config.Handler); name != "" {
		h, err := consumer.NewHandler(name, cfg)
		if err != nil {
			return nil, errors.Trace(err)
		}
		next = h
	}

	policy, err := cascade.NewPolicy(cascade.PolicyConfig{
		Connections:     conns,
		LocalDB:         config.DB,
		QueueName:       queueName,
		WorkerName:      workerName,
		LazyFetch:       int(cfg.Int(config.LazyFetch)),
		Filter:          cfg.String(config.ConsumerFilter),
		WatermarkPeriod: cfg.Duration(config.WatermarkPeriod),
		Clock:           p.Clock,
		Logger:          p.Logger,
	})
	if err != nil {
		closeHandler(p.Logger, next)
		return nil, errors.Trace(err)
	}

	var emission consumer.Emission = consumer.Terminal{}
	if node.Role.ReEmits() {
		emission = cascade.ReEmit{QueueName: queueName}
	}
	handler := &cascade.ControlHandler{
		QueueName: queueName,
		Role:      node.Role,
		Next:      next,
		Logger:    p.Logger,
	}

	stats := consumer.NewStats(workerName)
	if err := register(p, stats); err != nil {
		closeHandler(p.Logger, next)
		return nil, errors.Trace(err)
	}
	engine, err := consumer.NewEngine(consumer.EngineConfig{
		Policy: policy,
		Ack: consumer.InTxn{
			Target: consumer.RegistryTarget(conns, config.DB),
			Cursor: cascade.NodeCursor{QueueName: queueName, WorkerName: workerName},
		},
		Emission: emission,
		Handler:  handler,
		Stats:    stats,
		Clock:    p.Clock,
		Logger:   p.Logger,
	})
	if err != nil {
		closeHandler(p.Logger, next)
		return nil, errors.Trace(err)
	}
	svc, err := newEngineService(p, conns, engine, next)
	if err != nil {
		closeHandler(p.Logger, next)
		return nil, errors.Trace(err)
	}
	return svc, nil
}

// rootService runs the global watermark publisher of a root node.
type rootService struct {
	catacomb catacomb.Catacomb
	params   Params
	conns    *database.Registry
}

func startRoot(p Params, conns *database.Registry) (Service, error) {
	period := p.Config.Duration(config.WatermarkPeriod)
	if period <= 0 {
		return nil, errors.NotValidf("%s %s on a root node", config.WatermarkPeriod, period)
	}
	w, err := cascade.NewRootWorker(cascade.RootConfig{
		Connections: conns,
		LocalDB:     config.DB,
		QueueName:   p.Config.String(config.QueueName),
		Period:      period,
		Clock:       p.Clock,
		Logger:      p.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := &rootService{params: p, conns: conns}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "root-" + p.Config.JobName(),
		Site: &s.catacomb,
		Work: func() error {
			defer conns.Close(context.Background())
			<-s.catacomb.Dying()
			_ = worker.Stop(w)
			return s.catacomb.ErrDying()
		},
		Init: []worker.Worker{w},
	}); err != nil {
		_ = worker.Stop(w)
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Kill is part of the worker.Worker interface.
func (s *rootService) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *rootService) Wait() error {
	return s.catacomb.Wait()
}

// Reload is part of the Service interface. The root worker has no batch
// boundary to wait for, so only the connection lifetime is applied.
func (s *rootService) Reload(cfg *config.Config) error {
	s.conns.SetLifetime(cfg.ConnectionLifetime())
	s.params.Logger.Infof("%s reloaded; connection changes apply after a restart", cfg.JobName())
	return nil
}

// FlushStats is part of the Service interface.
func (s *rootService) FlushStats() error {
	return nil
}
