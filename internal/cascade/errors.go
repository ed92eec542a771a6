// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cascade

import "github.com/juju/errors"

// ErrProviderBehind is returned when a provider switch is refused because
// the new provider has not yet reached the tick this node applied.
const ErrProviderBehind = errors.ConstError("new provider is behind")
