// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jobcmd

import (
	"os"
	"path/filepath"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/lumberjack/v2"

	"github.com/canonical/pgqueue/internal/config"
)

const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
)

// setupLogging sends log messages at level and above to the configured log
// file, rotated by size, or to stderr if there is none. The returned func
// closes the file.
func setupLogging(ctx *cmd.Context, cfg *config.Config, level loggo.Level) (func(), error) {
	loggo.GetLogger("").SetLogLevel(level)

	path := cfg.Path(config.LogFile)
	if path == "" {
		if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(ctx.Stderr, loggo.DefaultFormatter)); err != nil {
			return nil, errors.Trace(err)
		}
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Annotate(err, "creating log directory")
	}
	ljLogger := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		Compress:   true,
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(ljLogger, loggo.DefaultFormatter)); err != nil {
		return nil, errors.Trace(err)
	}
	logger.Debugf("logging to %q, rotated at %d MB with %d backups", path, logMaxSizeMB, logMaxBackups)
	return func() {
		_ = ljLogger.Close()
	}, nil
}
