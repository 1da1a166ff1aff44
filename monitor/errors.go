package monitor

import (
	"errors"

	"github.com/hazyhaar/bidwatch/monitor/internal/config"
)

// ErrInvalidConfig reports a configuration that failed validation. Errors
// from LoadConfigFile and New match it with errors.Is.
var ErrInvalidConfig = config.ErrInvalid

// ErrOutputWrite reports a failed feed or state write. The run aborts on it:
// persisting counts for a feed that never reached disk would swallow the
// next alert.
var ErrOutputWrite = errors.New("monitor: output write failed")
