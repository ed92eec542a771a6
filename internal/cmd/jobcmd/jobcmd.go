// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package jobcmd is the command line shared by the pgqueue binaries.
//
// Every binary runs one service described by a section of an ini file:
//
//	queue-mover [-v|-q] [-d] mover.ini
//	queue-mover -r mover.ini     # reload the running instance
//	queue-mover -s mover.ini     # stop the running instance
//	queue-mover --status mover.ini
//	cascade-worker --pause node.ini
//	cascade-worker --resume node.ini
//	queue-mover --ini            # print a configuration template
package jobcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"golang.org/x/sys/unix"

	"github.com/canonical/pgqueue/internal/config"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pidfile"
	"github.com/canonical/pgqueue/internal/runner"
	"github.com/canonical/pgqueue/internal/worker/signalwatcher"
)

var logger = loggo.GetLogger("pgqueue.cmd")

// Exit codes.
const (
	ExitOK        = 0
	ExitConfig    = 1
	ExitTransport = 2
	ExitRuntime   = 3
)

// Service describes a pgqueue binary.
type Service struct {
	// Name is the name of the binary and the default ini section.
	Name    string
	Purpose string
	Doc     string

	// Keys are the configuration keys shown by --ini, after the keys
	// common to every service.
	Keys []string

	Factory runner.Factory
}

// Main runs the command for svc with the process arguments and returns the
// exit code.
func Main(svc Service) int {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		return ExitRuntime
	}
	return cmd.Main(NewCommand(svc), ctx, os.Args[1:])
}

// NewCommand returns the command running svc.
func NewCommand(svc Service) cmd.Command {
	return &jobCommand{
		service:  svc,
		open:     database.Connect,
		clock:    clock.WallClock,
		notify:   signal.Notify,
		unnotify: signal.Stop,
	}
}

type jobCommand struct {
	cmd.CommandBase

	service    Service
	configPath string
	section    string

	verbose bool
	quiet   bool
	daemon  bool
	reload  bool
	stop    bool
	ini     bool
	pause   bool
	resume  bool
	status  bool
	out     cmd.Output

	logToFile bool

	open     database.OpenFunc
	clock    clock.Clock
	notify   func(chan<- os.Signal, ...os.Signal)
	unnotify func(chan<- os.Signal)
}

// Info is part of the cmd.Command interface.
func (c *jobCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    c.service.Name,
		Args:    "<config.ini>",
		Purpose: c.service.Purpose,
		Doc:     c.service.Doc,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *jobCommand) SetFlags(f *gnuflag.FlagSet) {
	c.CommandBase.SetFlags(f)
	f.BoolVar(&c.verbose, "v", false, "Log debug messages")
	f.BoolVar(&c.quiet, "q", false, "Log warnings and errors only")
	f.BoolVar(&c.daemon, "d", false, "Run in the background")
	f.BoolVar(&c.reload, "r", false, "Reload the configuration of the running instance")
	f.BoolVar(&c.stop, "s", false, "Stop the running instance")
	f.BoolVar(&c.ini, "ini", false, "Print a configuration template")
	f.BoolVar(&c.pause, "pause", false, "Pause the cascade worker of the node")
	f.BoolVar(&c.resume, "resume", false, "Resume a paused cascade worker")
	f.BoolVar(&c.status, "status", false, "Show the queue position of the consumer")
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters.Formatters())
	f.StringVar(&c.section, "section", c.service.Name, "Section of the configuration file to use")
}

// Init is part of the cmd.Command interface.
func (c *jobCommand) Init(args []string) error {
	if c.ini {
		return cmd.CheckEmpty(args)
	}
	if len(args) > 0 {
		c.configPath, args = args[0], args[1:]
	}
	if c.verbose && c.quiet {
		return errors.New("-v and -q cannot be combined")
	}
	actions := c.actions()
	if len(actions) > 1 {
		return errors.Errorf("%s cannot be combined", strings.Join(actions, " and "))
	}
	if c.daemon && len(actions) > 0 {
		return errors.Errorf("-d cannot be combined with %s", actions[0])
	}
	return cmd.CheckEmpty(args)
}

// actions returns the one-shot requests given on the command line.
func (c *jobCommand) actions() []string {
	var out []string
	for _, a := range []struct {
		flag string
		set  bool
	}{
		{"-r", c.reload},
		{"-s", c.stop},
		{"--pause", c.pause},
		{"--resume", c.resume},
		{"--status", c.status},
	} {
		if a.set {
			out = append(out, a.flag)
		}
	}
	return out
}

// Run is part of the cmd.Command interface.
func (c *jobCommand) Run(ctx *cmd.Context) error {
	if c.ini {
		_, err := fmt.Fprint(ctx.Stdout, config.Template(c.section, c.service.Keys...))
		return err
	}

	if c.configPath == "" {
		return c.fail(ctx, ExitConfig, errors.New("no configuration file specified"))
	}
	cfg, err := config.Load(c.configPath, c.section)
	if err != nil {
		return c.fail(ctx, ExitConfig, err)
	}

	switch {
	case c.reload:
		return c.signal(ctx, cfg, unix.SIGHUP)
	case c.stop:
		return c.signal(ctx, cfg, unix.SIGTERM)
	case c.pause, c.resume:
		return c.setPaused(ctx, cfg, c.pause)
	case c.status:
		return c.showStatus(ctx, cfg)
	case c.daemon:
		return c.daemonise(ctx, cfg)
	}

	closeLog, err := setupLogging(ctx, cfg, c.level())
	if err != nil {
		return c.fail(ctx, ExitConfig, err)
	}
	defer closeLog()
	c.logToFile = cfg.Path(config.LogFile) != ""

	return c.run(ctx, cfg)
}

func (c *jobCommand) level() loggo.Level {
	switch {
	case c.verbose:
		return loggo.DEBUG
	case c.quiet:
		return loggo.WARNING
	}
	return loggo.INFO
}

func (c *jobCommand) signal(ctx *cmd.Context, cfg *config.Config, sig unix.Signal) error {
	path := cfg.Path(config.PidFile)
	if path == "" {
		return c.fail(ctx, ExitConfig, errors.NotValidf("missing %s in [%s]", config.PidFile, c.section))
	}
	pid, err := pidfile.Signal(path, sig)
	if err != nil {
		return c.fail(ctx, ExitConfig, err)
	}
	ctx.Infof("sent %v to %s (pid %d)", sig, cfg.JobName(), pid)
	return nil
}

func (c *jobCommand) params(cfg *config.Config) runner.Params {
	return runner.Params{
		Config: cfg,
		Open:   c.open,
		Clock:  c.clock,
		Logger: loggo.GetLogger("pgqueue." + cfg.JobName()),
	}
}

func (c *jobCommand) setPaused(ctx *cmd.Context, cfg *config.Config, paused bool) error {
	name, err := runner.SetPaused(context.Background(), c.params(cfg), paused)
	if err != nil {
		return c.fail(ctx, exitCode(err), err)
	}
	verb := "resumed"
	if paused {
		verb = "paused"
	}
	ctx.Infof("%s %s on queue %q", verb, name, cfg.String(config.QueueName))
	return nil
}

// consumerStatus is the --status output.
type consumerStatus struct {
	Queue         string `yaml:"queue" json:"queue"`
	Consumer      string `yaml:"consumer" json:"consumer"`
	Lag           string `yaml:"lag" json:"lag"`
	LastSeen      string `yaml:"last-seen" json:"last-seen"`
	LastTick      int64  `yaml:"last-tick" json:"last-tick"`
	CurrentBatch  *int64 `yaml:"current-batch,omitempty" json:"current-batch,omitempty"`
	PendingEvents int64  `yaml:"pending-events" json:"pending-events"`
}

func (c *jobCommand) showStatus(ctx *cmd.Context, cfg *config.Config) error {
	info, err := runner.Status(context.Background(), c.params(cfg))
	if err != nil {
		return c.fail(ctx, exitCode(err), err)
	}
	return c.out.Write(ctx, consumerStatus{
		Queue:         info.QueueName,
		Consumer:      info.ConsumerName,
		Lag:           info.Lag.String(),
		LastSeen:      info.LastSeen.String(),
		LastTick:      info.LastTick,
		CurrentBatch:  info.CurrentBatch,
		PendingEvents: info.PendingEvents,
	})
}

func (c *jobCommand) run(ctx *cmd.Context, cfg *config.Config) error {
	if path := cfg.Path(config.PidFile); path != "" {
		pf, err := pidfile.Acquire(path)
		if err != nil {
			return c.fail(ctx, ExitConfig, err)
		}
		defer func() {
			if err := pf.Release(); err != nil {
				logger.Warningf("releasing pid file: %v", err)
			}
		}()
	}

	metrics, err := startMetrics(cfg.String(config.MetricsListen))
	if err != nil {
		return c.fail(ctx, ExitConfig, err)
	}
	defer metrics.Close()

	// Signals are watched from the start so that a stop request during
	// startup is not lost.
	sigCh := make(chan os.Signal, 1)
	c.notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	defer c.unnotify(sigCh)

	startCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Infof("starting %s", cfg.JobName())
	params := c.params(cfg)
	params.Registerer = metrics.Registerer()
	svc, err := c.service.Factory(startCtx, params)
	if err != nil {
		return c.fail(ctx, exitCode(err), err)
	}

	watcher, err := signalwatcher.NewSignalWatcher(logger, sigCh, signalwatcher.Dispatch(logger,
		map[os.Signal]func() error{
			syscall.SIGHUP: func() error {
				return c.reloadService(svc)
			},
			syscall.SIGUSR1: svc.FlushStats,
		},
		syscall.SIGTERM, syscall.SIGINT,
	))
	if err != nil {
		_ = worker.Stop(svc)
		return c.fail(ctx, ExitRuntime, err)
	}

	done := make(chan struct{}, 2)
	go func() {
		_ = svc.Wait()
		done <- struct{}{}
	}()
	go func() {
		_ = watcher.Wait()
		done <- struct{}{}
	}()
	<-done

	// Stopping the watcher first means no request reaches a stopping
	// service.
	_ = worker.Stop(watcher)
	if err := worker.Stop(svc); err != nil {
		return c.fail(ctx, ExitRuntime, err)
	}
	logger.Infof("%s stopped", cfg.JobName())
	return nil
}

func (c *jobCommand) reloadService(svc runner.Service) error {
	cfg, err := config.Load(c.configPath, c.section)
	if err != nil {
		return errors.Annotate(err, "reloading")
	}
	logger.Infof("reloading %s", c.configPath)
	return errors.Trace(svc.Reload(cfg))
}

// exitCode returns the exit code reporting err.
func exitCode(err error) int {
	switch {
	case errors.Is(err, runner.ErrUnreachable):
		return ExitTransport
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.NotFound):
		return ExitConfig
	}
	return ExitRuntime
}

// fail reports err and ends the command with code. Once logging goes to a
// file the error is logged there as well.
func (c *jobCommand) fail(ctx *cmd.Context, code int, err error) error {
	if c.logToFile {
		logger.Errorf("%v", err)
	}
	fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
	return cmd.NewRcPassthroughError(code)
}
