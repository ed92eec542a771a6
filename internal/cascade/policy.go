// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cascade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	corecascade "github.com/canonical/pgqueue/core/cascade"
	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/consumer"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq"
)

const (
	// providerDB and candidateDB are the connection names of the current
	// provider and of the provider being switched to.
	providerDB  = "provider"
	candidateDB = "new_provider"

	defaultUptodateLag = time.Minute
)

// Connections is the part of the connection registry the policy uses.
// *database.Registry implements it.
type Connections interface {
	consumer.Connections
	Pin(ctx context.Context, name, dsn string)
	Reset(ctx context.Context, name string)
}

// PolicyConfig holds the dependencies of a Policy.
type PolicyConfig struct {
	Connections Connections

	// LocalDB is the connection name of the node's own database.
	LocalDB    string
	QueueName  string
	WorkerName string

	// LazyFetch and Filter are passed on to the provider source.
	LazyFetch int
	Filter    string

	// WatermarkPeriod is how often the node watermark is reported to the
	// provider. Zero disables reporting.
	WatermarkPeriod time.Duration

	// UptodateLag is the tick age above which a node that keeps getting
	// batches is considered to be catching up.
	UptodateLag time.Duration

	Clock  clock.Clock
	Logger consumer.Logger
}

// Validate returns an error if the config cannot drive a Policy.
func (c PolicyConfig) Validate() error {
	if c.Connections == nil {
		return errors.NotValidf("nil Connections")
	}
	if c.LocalDB == "" {
		return errors.NotValidf("empty LocalDB")
	}
	if c.QueueName == "" {
		return errors.NotValidf("empty QueueName")
	}
	if c.WorkerName == "" {
		return errors.NotValidf("empty WorkerName")
	}
	if c.WatermarkPeriod < 0 {
		return errors.NotValidf("negative WatermarkPeriod")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Policy is the consumer.ProviderPolicy of a cascaded node. Every
// iteration it reads the worker state from the local node, which is how
// operators pause, hold or move a running worker.
type Policy struct {
	config PolicyConfig

	mu    sync.Mutex
	phase corecascade.Phase

	state     corecascade.ConsumerState
	applied   int64
	uptodate  *bool
	lastError string

	source         *consumer.PgqSource
	sourceLocation string

	watermark     *Watermark
	nextWatermark time.Time
}

// NewPolicy returns a Policy.
func NewPolicy(config PolicyConfig) (*Policy, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.UptodateLag == 0 {
		config.UptodateLag = defaultUptodateLag
	}
	return &Policy{
		config: config,
		phase:  corecascade.CatchingUp,
	}, nil
}

// Phase returns the phase the worker was in at the last iteration.
func (p *Policy) Phase() corecascade.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *Policy) setPhase(phase corecascade.Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != phase {
		p.config.Logger.Infof("%s: %s -> %s", p.config.WorkerName, p.phase, phase)
	}
	p.phase = phase
}

func (p *Policy) local(ctx context.Context) (*database.Handle, error) {
	h, err := p.config.Connections.Get(ctx, p.config.LocalDB, database.Autocommit())
	return h, errors.Trace(err)
}

// Prepare is part of the consumer.ProviderPolicy interface.
func (p *Policy) Prepare(ctx context.Context) (consumer.Source, bool, error) {
	local, err := p.local(ctx)
	if err != nil {
		return nil, false, err
	}
	state, err := pgq.GetConsumerState(ctx, local, p.config.QueueName, p.config.WorkerName)
	if err != nil {
		return nil, false, local.Check(ctx, err)
	}
	if !state.Role.HasProvider() {
		return nil, false, errors.NotValidf("consuming on %s node %q", state.Role, state.NodeName)
	}
	p.state = state
	p.lastError = state.LastError
	if state.CompletedTick > p.applied {
		p.applied = state.CompletedTick
	}

	switch {
	case state.Paused:
		p.setPhase(corecascade.Paused)
		return nil, false, nil

	case state.SyncTick > 0 && p.applied >= state.SyncTick:
		p.setPhase(corecascade.Syncing)
		return nil, false, nil

	case state.SwitchRequested() && p.applied >= state.WaitTick:
		p.setPhase(corecascade.SwitchingProvider)
		err := p.switchProvider(ctx, local)
		if errors.Is(err, ErrProviderBehind) || errors.Is(err, errors.NotFound) {
			p.config.Logger.Warningf("%s: provider switch refused: %v", p.config.WorkerName, err)
			return nil, false, nil
		} else if err != nil {
			return nil, false, errors.Annotate(err, "switching provider")
		}
	}

	if err := p.publishWatermark(ctx, local); err != nil {
		p.config.Logger.Warningf("%s: reporting watermark: %v", p.config.WorkerName, err)
	}

	if p.Phase() != corecascade.Following {
		p.setPhase(corecascade.CatchingUp)
	}
	src, err := p.providerSource(ctx)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	return src, true, nil
}

// providerSource returns the source for the current provider, pinning the
// provider connection to its location.
func (p *Policy) providerSource(ctx context.Context) (*consumer.PgqSource, error) {
	loc := p.state.ProviderLocation
	if p.source != nil && p.sourceLocation == loc {
		return p.source, nil
	}
	p.config.Connections.Pin(ctx, providerDB, loc)
	src, err := consumer.NewPgqSource(consumer.PgqSourceConfig{
		Connections:  p.config.Connections,
		DBName:       providerDB,
		QueueName:    p.config.QueueName,
		ConsumerName: p.config.WorkerName,
		LazyFetch:    p.config.LazyFetch,
		Filter:       p.config.Filter,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	p.source = src
	p.sourceLocation = loc
	return src, nil
}

// switchProvider moves the worker to the pending provider. The new
// provider must already have the tick this node applied; the subscription
// there starts right after it, so no event is lost or applied twice.
func (p *Policy) switchProvider(ctx context.Context, local *database.Handle) error {
	state := p.state
	loc := state.PendingProviderLocation
	if loc == "" {
		var err error
		if loc, err = p.nodeLocation(ctx, local, state.PendingProvider); err != nil {
			return errors.Trace(err)
		}
	}
	p.config.Connections.Pin(ctx, candidateDB, loc)
	candidate, err := p.config.Connections.Get(ctx, candidateDB, database.Autocommit())
	if err != nil {
		return errors.Trace(err)
	}

	info, err := pgq.GetQueueInfo(ctx, candidate, p.config.QueueName)
	if err != nil {
		return candidate.Check(ctx, err)
	}
	if info.LastTickID < p.applied {
		return fmt.Errorf("%w: %q is at tick %d, this node applied %d",
			ErrProviderBehind, state.PendingProvider, info.LastTickID, p.applied)
	}

	if _, err := pgq.RegisterSubscriber(ctx, candidate, p.config.QueueName, state.NodeName, p.config.WorkerName, p.applied); err != nil {
		return candidate.Check(ctx, err)
	}

	// The old provider may be gone; it only keeps retaining events for us.
	p.config.Connections.Pin(ctx, providerDB, state.ProviderLocation)
	if old, err := p.config.Connections.Get(ctx, providerDB, database.Autocommit()); err != nil {
		p.config.Logger.Warningf("%s: cannot reach old provider %q: %v", p.config.WorkerName, state.ProviderNode, err)
	} else if err := pgq.UnregisterSubscriber(ctx, old, p.config.QueueName, state.NodeName); err != nil {
		_ = old.Check(ctx, err)
		p.config.Logger.Warningf("%s: unregistering from old provider %q: %v", p.config.WorkerName, state.ProviderNode, err)
	}

	if err := pgq.ChangeConsumerProvider(ctx, local, p.config.QueueName, p.config.WorkerName, state.PendingProvider); err != nil {
		return local.Check(ctx, err)
	}

	p.config.Connections.Reset(ctx, providerDB)
	p.config.Connections.Reset(ctx, candidateDB)
	p.source = nil

	p.config.Logger.Infof("%s: switched provider from %q to %q at tick %d",
		p.config.WorkerName, state.ProviderNode, state.PendingProvider, p.applied)
	p.state.ProviderNode = state.PendingProvider
	p.state.ProviderLocation = loc
	p.state.PendingProvider = ""
	p.state.PendingProviderLocation = ""
	p.state.WaitTick = 0
	return nil
}

// nodeLocation returns the connect string the local node has registered
// for node. A node that is unknown or marked dead is NotFound.
func (p *Policy) nodeLocation(ctx context.Context, local *database.Handle, node string) (string, error) {
	locs, err := pgq.QueueLocations(ctx, local, p.config.QueueName)
	if err != nil {
		return "", local.Check(ctx, err)
	}
	for _, loc := range locs {
		if loc.NodeName != node {
			continue
		}
		if loc.Dead {
			return "", errors.NotFoundf("live location of node %q", node)
		}
		return loc.ConnStr, nil
	}
	return "", errors.NotFoundf("location of node %q", node)
}

// publishWatermark reports the node watermark to the provider, at most
// once per WatermarkPeriod and only when it moved.
func (p *Policy) publishWatermark(ctx context.Context, local *database.Handle) error {
	if p.config.WatermarkPeriod == 0 || p.applied == 0 {
		return nil
	}
	now := p.config.Clock.Now()
	if now.Before(p.nextWatermark) {
		return nil
	}
	p.nextWatermark = now.Add(p.config.WatermarkPeriod)

	var subWatermarks []int64
	if p.state.Role == corecascade.Branch {
		subs, err := pgq.Subscribers(ctx, local, p.config.QueueName)
		if err != nil {
			return local.Check(ctx, err)
		}
		for _, s := range subs {
			subWatermarks = append(subWatermarks, s.Watermark)
		}
	}

	if _, err := p.providerSource(ctx); err != nil {
		return errors.Trace(err)
	}
	provider, err := p.config.Connections.Get(ctx, providerDB, database.Autocommit())
	if err != nil {
		return errors.Trace(err)
	}
	if p.watermark == nil {
		reported, err := p.reportedWatermark(ctx, provider)
		if err != nil {
			return provider.Check(ctx, err)
		}
		p.watermark = NewWatermark(reported)
	}

	wm, moved := p.watermark.Advance(p.applied, subWatermarks)
	if !moved {
		return nil
	}
	if err := pgq.SetSubscriberWatermark(ctx, provider, p.config.QueueName, p.state.NodeName, wm); err != nil {
		return provider.Check(ctx, err)
	}
	p.config.Logger.Debugf("%s: reported watermark %d", p.config.WorkerName, wm)
	return nil
}

// reportedWatermark returns the watermark the provider holds for this node,
// or zero if it does not list the node.
func (p *Policy) reportedWatermark(ctx context.Context, provider database.DBTX) (int64, error) {
	subs, err := pgq.Subscribers(ctx, provider, p.config.QueueName)
	if err != nil {
		return 0, errors.Trace(err)
	}
	for _, s := range subs {
		if s.NodeName == p.state.NodeName {
			return s.Watermark, nil
		}
	}
	p.config.Logger.Debugf("%s: provider %q does not list node %q yet",
		p.config.WorkerName, p.state.ProviderNode, p.state.NodeName)
	return 0, nil
}

// Polled is part of the consumer.ProviderPolicy interface. Running out of
// batches means the node is up to date.
func (p *Policy) Polled(ctx context.Context, found bool) {
	if !found {
		p.setUptodate(ctx, true)
	}
}

// Applied is part of the consumer.ProviderPolicy interface.
func (p *Policy) Applied(ctx context.Context, info queue.BatchInfo) {
	if info.TickID > p.applied {
		p.applied = info.TickID
	}
	lag := p.config.Clock.Now().Sub(info.TickTime)
	p.setUptodate(ctx, lag < p.config.UptodateLag)

	if p.lastError != "" {
		if err := p.reportError(ctx, ""); err != nil {
			p.config.Logger.Warningf("%s: clearing error: %v", p.config.WorkerName, err)
		}
	}
}

// Failed is part of the consumer.ProviderPolicy interface.
func (p *Policy) Failed(ctx context.Context, info queue.BatchInfo, cause error) {
	if err := p.reportError(ctx, cause.Error()); err != nil {
		p.config.Logger.Warningf("%s: reporting error: %v", p.config.WorkerName, err)
	}
}

func (p *Policy) reportError(ctx context.Context, msg string) error {
	local, err := p.local(ctx)
	if err != nil {
		return err
	}
	if err := pgq.SetConsumerError(ctx, local, p.config.QueueName, p.config.WorkerName, msg); err != nil {
		return local.Check(ctx, err)
	}
	p.lastError = msg
	return nil
}

func (p *Policy) setUptodate(ctx context.Context, uptodate bool) {
	if uptodate {
		p.setPhase(corecascade.Following)
	} else {
		p.setPhase(corecascade.CatchingUp)
	}
	if p.uptodate != nil && *p.uptodate == uptodate {
		return
	}
	local, err := p.local(ctx)
	if err == nil {
		err = local.Check(ctx, pgq.SetConsumerUptodate(ctx, local, p.config.QueueName, p.config.WorkerName, uptodate))
	}
	if err != nil {
		p.config.Logger.Warningf("%s: reporting uptodate: %v", p.config.WorkerName, err)
		return
	}
	p.uptodate = &uptodate
}
