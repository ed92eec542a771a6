// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jobcmd

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/internal/config"
)

// daemonise starts the service again as a session leader detached from the
// terminal, and returns once it is started. The child runs in the
// foreground with the same options, so it writes its own pid file.
func (c *jobCommand) daemonise(ctx *cmd.Context, cfg *config.Config) error {
	if cfg.Path(config.LogFile) == "" {
		return c.fail(ctx, ExitConfig, errors.NotValidf("-d without %s in [%s]", config.LogFile, c.section))
	}
	exe, err := os.Executable()
	if err != nil {
		return c.fail(ctx, ExitRuntime, errors.Trace(err))
	}
	path, err := filepath.Abs(c.configPath)
	if err != nil {
		return c.fail(ctx, ExitConfig, errors.Trace(err))
	}

	proc := exec.Command(exe, c.childArgs(path)...)
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return c.fail(ctx, ExitRuntime, errors.Trace(err))
	}
	defer devNull.Close()
	proc.Stdin, proc.Stdout, proc.Stderr = devNull, devNull, devNull
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := proc.Start(); err != nil {
		return c.fail(ctx, ExitRuntime, errors.Annotate(err, "starting daemon"))
	}
	ctx.Infof("started %s (pid %d)", cfg.JobName(), proc.Process.Pid)
	return errors.Trace(proc.Process.Release())
}

// childArgs returns the arguments of the daemon process.
func (c *jobCommand) childArgs(configPath string) []string {
	args := []string{"--section", c.section}
	switch {
	case c.verbose:
		args = append(args, "-v")
	case c.quiet:
		args = append(args, "-q")
	}
	return append(args, configPath)
}
