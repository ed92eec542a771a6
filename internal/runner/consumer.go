// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package runner

import (
	"context"
	"io"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/canonical/pgqueue/internal/config"
	"github.com/canonical/pgqueue/internal/consumer"
	"github.com/canonical/pgqueue/internal/database"
)

// Consumer returns a Factory for a plain consumer of queue_name on src_db.
// Batches are acknowledged once the handler applied them; if dst_db is set
// the handler runs in a transaction on it. An empty handlerName takes the
// handler from the configuration.
func Consumer(handlerName string) Factory {
	return func(ctx context.Context, p Params) (Service, error) {
		return startConsumer(ctx, p, handlerName, false)
	}
}

// Serial returns a Factory for a serial consumer: the position is stored in
// dst_db in the transaction that applies the batch, so every batch is
// applied exactly once.
func Serial(handlerName string) Factory {
	return func(ctx context.Context, p Params) (Service, error) {
		return startConsumer(ctx, p, handlerName, true)
	}
}

func startConsumer(ctx context.Context, p Params, handlerName string, serial bool) (Service, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	cfg := p.Config
	required := []string{config.QueueName, config.SrcDB}
	if serial {
		required = append(required, config.DstDB)
		if cfg.String(config.IsolationLevel) == "autocommit" {
			return nil, errors.NotValidf("isolation_level autocommit for a serial consumer")
		}
	}
	if handlerName == "" {
		required = append(required, config.Handler)
		handlerName = cfg.String(config.Handler)
	}
	if err := cfg.Require(required...); err != nil {
		return nil, errors.Trace(err)
	}

	handler, err := consumer.NewHandler(handlerName, cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	conns, err := newRegistry(p)
	if err != nil {
		closeHandler(p.Logger, handler)
		return nil, errors.Trace(err)
	}
	svc, err := buildConsumer(ctx, p, conns, handler, serial)
	if err != nil {
		conns.Close(context.Background())
		closeHandler(p.Logger, handler)
		return nil, errors.Trace(err)
	}
	return svc, nil
}

func buildConsumer(ctx context.Context, p Params, conns *database.Registry, handler consumer.Handler, serial bool) (Service, error) {
	cfg := p.Config
	src, err := consumer.NewPgqSource(consumer.PgqSourceConfig{
		Connections:  conns,
		DBName:       config.SrcDB,
		QueueName:    cfg.String(config.QueueName),
		ConsumerName: cfg.ConsumerName(),
		LazyFetch:    int(cfg.Int(config.LazyFetch)),
		Filter:       cfg.String(config.ConsumerFilter),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := reach(ctx, p, "registering consumer", func() error {
		return src.Register(ctx)
	}); err != nil {
		return nil, errors.Trace(err)
	}

	var ack consumer.AckStrategy
	switch {
	case serial:
		ack = consumer.InTxn{
			Target: consumer.RegistryTarget(conns, config.DstDB, cfg.DBOptions()...),
			Cursor: consumer.ExtCursor{ConsumerName: cfg.ConsumerName()},
		}
	case cfg.String(config.DstDB) != "":
		ack = consumer.PerBatch{
			Target: consumer.RegistryTarget(conns, config.DstDB, cfg.DBOptions()...),
		}
	default:
		ack = consumer.PerBatch{}
	}

	stats := consumer.NewStats(cfg.ConsumerName())
	if err := register(p, stats); err != nil {
		return nil, errors.Trace(err)
	}
	engine, err := consumer.NewEngine(consumer.EngineConfig{
		Policy:   consumer.FixedProvider{Source: src},
		Ack:      ack,
		Emission: consumer.Terminal{},
		Handler:  handler,
		Stats:    stats,
		Clock:    p.Clock,
		Logger:   p.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newEngineService(p, conns, engine, handler)
}

// engineService runs a consumer.Worker and owns its connections and
// handler.
type engineService struct {
	catacomb catacomb.Catacomb
	params   Params
	worker   *consumer.Worker
	conns    *database.Registry
	handler  consumer.Handler
}

func newEngineService(p Params, conns *database.Registry, runner consumer.BatchRunner, handler consumer.Handler) (*engineService, error) {
	w, err := consumer.NewWorker(consumer.WorkerConfig{
		Name:        p.Config.JobName(),
		Runner:      runner,
		Connections: conns,
		Clock:       p.Clock,
		Logger:      p.Logger,
		LoopDelay:   p.Config.LoopDelay(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := &engineService{
		params:  p,
		worker:  w,
		conns:   conns,
		handler: handler,
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "service-" + p.Config.JobName(),
		Site: &s.catacomb,
		Work: s.loop,
		Init: []worker.Worker{w},
	}); err != nil {
		_ = worker.Stop(w)
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Kill is part of the worker.Worker interface.
func (s *engineService) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *engineService) Wait() error {
	return s.catacomb.Wait()
}

// Reload is part of the Service interface.
func (s *engineService) Reload(cfg *config.Config) error {
	return errors.Trace(s.worker.Reload(consumer.Reload{
		LoopDelay:          cfg.LoopDelay(),
		Resolver:           cfg.Resolver(),
		ConnectionLifetime: cfg.ConnectionLifetime(),
	}))
}

// FlushStats is part of the Service interface.
func (s *engineService) FlushStats() error {
	_, err := s.worker.FlushStats()
	return errors.Trace(err)
}

func (s *engineService) loop() error {
	defer s.cleanup()

	// A zero period disables the periodic statistics.
	period := s.params.Config.Duration(config.StatsPeriod)
	if period > 0 {
		timer := s.params.Clock.NewTimer(period)
		defer timer.Stop()
		for {
			select {
			case <-s.catacomb.Dying():
				return s.stop()
			case <-timer.Chan():
				// An error means the consumer is dying, which kills the
				// catacomb too.
				if _, err := s.worker.FlushStats(); err == nil {
					timer.Reset(period)
				}
			}
		}
	}
	<-s.catacomb.Dying()
	return s.stop()
}

// stop waits for the consumer to leave its batch before the connections
// are closed.
func (s *engineService) stop() error {
	_ = worker.Stop(s.worker)
	return s.catacomb.ErrDying()
}

func (s *engineService) cleanup() {
	s.conns.Close(context.Background())
	closeHandler(s.params.Logger, s.handler)
}

func closeHandler(logger Logger, h consumer.Handler) {
	c, ok := h.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warningf("closing handler: %v", err)
	}
}
