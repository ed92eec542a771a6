// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package runner

import (
	"context"

	"github.com/juju/errors"

	"github.com/canonical/pgqueue/internal/config"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
	"github.com/canonical/pgqueue/internal/ticker"
)

// Ticker returns a Factory for the ticker daemon of the queue database in
// db.
func Ticker() Factory {
	return func(ctx context.Context, p Params) (Service, error) {
		if err := p.Validate(); err != nil {
			return nil, errors.Trace(err)
		}
		cfg := p.Config
		if err := cfg.Require(config.DB); err != nil {
			return nil, errors.Trace(err)
		}

		// The version check uses its own registry; the ticker loops each open
		// theirs.
		conns, err := newRegistry(p)
		if err != nil {
			return nil, errors.Trace(err)
		}
		err = reach(ctx, p, "reading pgq version", func() error {
			h, err := conns.Get(ctx, config.DB, database.Autocommit())
			if err != nil {
				return errors.Trace(err)
			}
			version, err := pgq.Version(ctx, h)
			if err == nil {
				p.Logger.Infof("ticking pgq %s", version)
			}
			return h.Check(ctx, err)
		})
		conns.Close(context.Background())
		if err != nil {
			return nil, errors.Trace(err)
		}

		metrics := ticker.NewMetrics()
		if err := register(p, metrics); err != nil {
			return nil, errors.Trace(err)
		}
		t, err := ticker.New(ticker.Config{
			NewConnections: func() (ticker.Connections, error) {
				return newRegistry(p)
			},
			DBName:     config.DB,
			PollPeriod: cfg.Duration(config.TickerPollPeriod),
			LogDelay:   cfg.Duration(config.TickerLogDelay),
			MaintDelay: cfg.Duration(config.MaintDelay),
			Metrics:    metrics,
			Clock:      p.Clock,
			Logger:     p.Logger,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &tickerService{Ticker: t, logger: p.Logger}, nil
	}
}

type tickerService struct {
	*ticker.Ticker
	logger Logger
}

// Reload is part of the Service interface. Each ticker loop owns its
// connections, so new settings apply after a restart.
func (s *tickerService) Reload(cfg *config.Config) error {
	s.logger.Warningf("%s: the ticker applies configuration changes after a restart", cfg.JobName())
	return nil
}

// FlushStats is part of the Service interface. The ticker logs its own
// statistics every ticker_log_delay.
func (s *tickerService) FlushStats() error {
	return nil
}
