// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pidfile guards a service against running twice and lets a second
// invocation signal the running one.
//
// The file holds the pid of the running instance and is kept locked with
// flock for as long as the instance runs. A file that can be locked belongs
// to an instance that is gone, whatever pid it holds.
package pidfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

const (
	// ErrLocked is returned when another instance holds the pid file.
	ErrLocked = errors.ConstError("pid file locked by a running instance")

	// ErrNotRunning is returned when signalling an instance that is not
	// running.
	ErrNotRunning = errors.ConstError("no running instance")
)

// File is a held pid file.
type File struct {
	path string
	f    *os.File
}

// Acquire creates and locks the pid file at path, writing the pid of the
// current process into it.
func Acquire(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Trace(err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			if pid, rerr := Read(path); rerr == nil {
				return nil, errors.Annotatef(ErrLocked, "%s (pid %d)", path, pid)
			}
			return nil, errors.Annotatef(ErrLocked, "%s", path)
		}
		return nil, errors.Annotatef(err, "locking %s", path)
	}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, errors.Trace(err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		_ = f.Close()
		return nil, errors.Trace(err)
	}
	return &File{path: path, f: f}, nil
}

// Path returns the location of the pid file.
func (p *File) Path() string {
	return p.path
}

// Release removes the pid file and drops the lock.
func (p *File) Release() error {
	rmErr := os.Remove(p.path)
	if err := p.f.Close(); err != nil {
		return errors.Trace(err)
	}
	if rmErr != nil && !os.IsNotExist(rmErr) {
		return errors.Trace(rmErr)
	}
	return nil
}

// Read returns the pid stored in the file at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, errors.NotFoundf("pid file %s", path)
	} else if err != nil {
		return 0, errors.Trace(err)
	}
	pid, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil || pid <= 0 {
		return 0, errors.NotValidf("pid file %s content %q", path, data)
	}
	return pid, nil
}

// Running returns the pid of the instance holding the file at path, or
// ErrNotRunning.
func Running(path string) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, errors.Annotatef(ErrNotRunning, "%s", path)
	} else if err != nil {
		return 0, errors.Trace(err)
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if err == nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return 0, errors.Annotatef(ErrNotRunning, "stale %s", path)
	}
	if err != unix.EWOULDBLOCK {
		return 0, errors.Annotatef(err, "probing %s", path)
	}
	return Read(path)
}

// Signal sends sig to the instance holding the file at path.
func Signal(path string, sig unix.Signal) (int, error) {
	pid, err := Running(path)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return pid, errors.Annotatef(err, "signalling pid %d", pid)
	}
	return pid, nil
}
