// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the ini file shared by every pgqueue service.
//
// A file holds one section per service. Keys are normalised (lower case,
// dashes folded to underscores, empty values dropped) and then coerced
// against the table of known keys; keys unknown to the table are kept as
// strings so that handlers can read their own settings.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
	"gopkg.in/ini.v1"

	"github.com/canonical/pgqueue/internal/database"
)

// Config is the coerced configuration of one service.
type Config struct {
	service string
	raw     map[string]string
	attrs   map[string]interface{}
}

// Load reads the section named service from the ini file at path.
func Load(path, service string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading configuration")
	}
	cfg, err := Parse(data, service)
	if err != nil {
		return nil, errors.Annotatef(err, "loading %q", path)
	}
	return cfg, nil
}

// Parse reads the section named service from ini data. Values may refer to
// other keys of the section, or of the default section, as %(key)s.
func Parse(data []byte, service string) (*Config, error) {
	if service == "" {
		return nil, errors.NotValidf("empty service name")
	}
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys: true,
	}, data)
	if err != nil {
		return nil, errors.NewNotValid(err, "parsing configuration")
	}
	section, err := file.GetSection(service)
	if err != nil {
		return nil, errors.NotFoundf("section [%s]", service)
	}
	// Interpolation looks keys up by name, so spellings are folded before
	// any value is read. job_name has to exist for the same reason.
	for _, key := range section.Keys() {
		name := normaliseKey(key.Name())
		if name == key.Name() {
			continue
		}
		value := key.Value()
		section.DeleteKey(key.Name())
		if _, err := section.NewKey(name, value); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if !section.HasKey(JobName) {
		if _, err := section.NewKey(JobName, service); err != nil {
			return nil, errors.Trace(err)
		}
	}
	raw := make(map[string]string)
	for _, key := range section.Keys() {
		raw[key.Name()] = key.String()
	}
	return New(service, raw)
}

// New coerces raw key values into a Config.
func New(service string, raw map[string]string) (*Config, error) {
	norm := Normalise(raw)
	if _, ok := norm[JobName]; !ok {
		norm[JobName] = service
	}
	in := make(map[string]interface{}, len(norm))
	for k, v := range norm {
		in[k] = v
	}
	coerced, err := checker.Coerce(in, nil)
	if err != nil {
		return nil, errors.NewNotValid(err, "invalid configuration")
	}
	return &Config{
		service: service,
		raw:     norm,
		attrs:   coerced.(map[string]interface{}),
	}, nil
}

// Normalise trims keys and values, lower cases keys, folds dashes in keys to
// underscores and drops empty values. The input is left untouched.
func Normalise(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		k = normaliseKey(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func normaliseKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "-", "_")
}

// Service returns the section name the configuration was read from.
func (c *Config) Service() string {
	return c.service
}

// JobName returns the job name, which defaults to the service name.
func (c *Config) JobName() string {
	return c.String(JobName)
}

// Keys returns the names of every key set in the section, sorted.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.raw))
	for k := range c.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value of key, or the empty string if it is not set.
func (c *Config) String(key string) string {
	if v, ok := c.attrs[key].(string); ok {
		return v
	}
	return c.raw[key]
}

// Strings returns a comma separated value as a list, without empty items.
func (c *Config) Strings(key string) []string {
	var out []string
	for _, item := range strings.Split(c.String(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Path returns a file path setting with a leading ~ expanded to the home
// directory of the user.
func (c *Config) Path(key string) string {
	p := c.String(key)
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Duration returns a key holding seconds, or zero if it is not set.
func (c *Config) Duration(key string) time.Duration {
	f, ok := c.attrs[key].(float64)
	if !ok {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// Int returns an integer key, or zero if it is not set.
func (c *Config) Int(key string) int64 {
	n, _ := c.attrs[key].(int64)
	return n
}

// Require returns a NotValid error naming the first of keys that is not set.
func (c *Config) Require(keys ...string) error {
	for _, key := range keys {
		if c.String(key) == "" {
			return errors.NotValidf("missing %s in [%s]", key, c.service)
		}
	}
	return nil
}

// ConsumerName returns the name registered on the queue.
func (c *Config) ConsumerName() string {
	if name := c.String(ConsumerName); name != "" {
		return name
	}
	return c.JobName()
}

// LoopDelay returns how long to sleep when no batch is ready.
func (c *Config) LoopDelay() time.Duration {
	return c.Duration(LoopDelay)
}

// ConnectionLifetime returns how long connections are kept, zero for ever.
func (c *Config) ConnectionLifetime() time.Duration {
	return c.Duration(ConnectionLifetime)
}

// DBOptions returns the registry options for destination connections.
func (c *Config) DBOptions() []database.Option {
	switch c.String(IsolationLevel) {
	case "autocommit":
		return []database.Option{database.Autocommit()}
	case "repeatable read":
		return []database.Option{database.Isolation(pgx.RepeatableRead)}
	case "serializable":
		return []database.Option{database.Isolation(pgx.Serializable)}
	}
	return []database.Option{database.Isolation(pgx.ReadCommitted)}
}

// Resolver resolves connection names against the configuration. A name is
// looked up as a key; a value that names another connection key is followed
// once, so dst_db = db shares the DSN of db.
func (c *Config) Resolver() database.Resolver {
	return func(name string) (string, error) {
		dsn := c.raw[name]
		if dsn == "" {
			return "", errors.NotFoundf("connection %q in [%s]", name, c.service)
		}
		if alias, ok := c.raw[dsn]; ok && isConnectionKey(dsn) {
			return alias, nil
		}
		return dsn, nil
	}
}

func isConnectionKey(key string) bool {
	return key == DB || strings.HasSuffix(key, "_db")
}
