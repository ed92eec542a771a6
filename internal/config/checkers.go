// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/schema"
)

// pathString renders a schema path the way schema errors do.
func pathString(path []string) string {
	if len(path) > 0 && path[0] == "." {
		path = path[1:]
	}
	if s := strings.Join(path, ""); s != "" {
		return s
	}
	return "value"
}

// seconds accepts a number of seconds, possibly fractional, as a number or
// a string, and returns it as a float64.
func seconds() schema.Checker {
	return secondsC{}
}

type secondsC struct{}

func (secondsC) Coerce(v interface{}, path []string) (interface{}, error) {
	var f float64
	switch v := v.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected seconds, got %q", pathString(path), v)
		}
	default:
		return nil, fmt.Errorf("%s: expected seconds, got %T(%#v)", pathString(path), v, v)
	}
	if f < 0 {
		return nil, fmt.Errorf("%s: expected non negative seconds, got %v", pathString(path), f)
	}
	return f, nil
}

// integer accepts an integer as a number or a string and returns it as an
// int64.
func integer() schema.Checker {
	return integerC{}
}

type integerC struct{}

func (integerC) Coerce(v interface{}, path []string) (interface{}, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected integer, got %q", pathString(path), v)
		}
		return n, nil
	}
	return nil, fmt.Errorf("%s: expected integer, got %T(%#v)", pathString(path), v, v)
}

// isolationLevels maps accepted isolation level spellings to their
// canonical form.
var isolationLevels = map[string]string{
	"read committed":  "read committed",
	"read_committed":  "read committed",
	"repeatable read": "repeatable read",
	"repeatable_read": "repeatable read",
	"serializable":    "serializable",
	"autocommit":      "autocommit",
	"auto":            "autocommit",
}

func isolation() schema.Checker {
	return isolationC{}
}

type isolationC struct{}

func (isolationC) Coerce(v interface{}, path []string) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%s: expected string, got %T(%#v)", pathString(path), v, v)
	}
	level, ok := isolationLevels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return nil, fmt.Errorf("%s: unknown isolation level %q", pathString(path), s)
	}
	return level, nil
}
