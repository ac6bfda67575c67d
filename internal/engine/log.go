package engine

import "github.com/btcsuite/btclog"

// log is the package-level subsystem logger; set via UseLogger during
// application startup, a no-op logger otherwise.
var log = btclog.Disabled

// UseLogger installs a subsystem logger for this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
