// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"time"
)

// ShortWait is how long a test blocks waiting for something that should
// not happen.
const ShortWait = 50 * time.Millisecond

// LongWait is how long a test waits for something that should already have
// happened before it gives up.
const LongWait = 10 * time.Second
