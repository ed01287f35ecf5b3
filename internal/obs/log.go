// Package obs provides structured logging and Prometheus metrics shared
// across the orchestrator and its maintenance loops, grounded on
// cuemby-warren's pkg/log and pkg/metrics: a package-level zerolog.Logger
// configured once, handed out as component sub-loggers, plus a fixed set of
// package-level Prometheus collectors registered at init.
package obs

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	baseOnce sync.Once
	base     zerolog.Logger
)

// Init configures the package-level base logger. Safe to call multiple
// times; only the first call takes effect.
func Init(level zerolog.Level) {
	baseOnce.Do(func() {
		base = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	})
}

// Component returns a sub-logger tagged with component=name, the pattern
// cuemby-warren's log.WithComponent uses.
func Component(name string) zerolog.Logger {
	Init(zerolog.InfoLevel)
	return base.With().Str("component", name).Logger()
}
