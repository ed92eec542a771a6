// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config

import (
	"bytes"
	"fmt"

	"github.com/juju/schema"
)

// commonKeys appear in the template of every service.
var commonKeys = []string{JobName, PidFile, LogFile, LoopDelay, ConnectionLifetime, StatsPeriod, MetricsListen}

// Template returns an example configuration for service, listing the common
// keys followed by keys. Optional keys are commented out.
func Template(service string, keys ...string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[%s]\n", service)
	seen := make(map[string]bool)
	for _, key := range append(append([]string(nil), commonKeys...), keys...) {
		f, ok := byKey[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		fmt.Fprintf(&buf, "\n# %s\n", f.help)
		value := f.example
		if key == JobName {
			value = service
		}
		if f.def == schema.Omit && key != JobName {
			fmt.Fprintf(&buf, "#%s = %s\n", key, value)
		} else {
			fmt.Fprintf(&buf, "%s = %s\n", key, value)
		}
	}
	return buf.String()
}
