package monitor

import "errors"

// ErrInvalidConfig indicates an engine configuration value is out of range.
var ErrInvalidConfig = errors.New("monitor: invalid config")
