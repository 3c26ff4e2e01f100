package reconcile

import (
	"errors"
	"time"
)

// DefaultWorkers is the default probe pool size when probing in parallel.
const DefaultWorkers = 4

// Config holds the configuration for the reconciliation loop.
// Config is passed as a constructor argument; this package does no file I/O.
type Config struct {
	// Interval is the pause between cycles. Zero means the shortest
	// check interval among the monitored interfaces.
	Interval time.Duration `yaml:"-"`

	// ParallelProbes selects gateways for all interfaces concurrently,
	// joining before any route is changed.
	// Default: false (interfaces are handled one after another)
	ParallelProbes bool `yaml:"parallel_probes"`

	// Workers bounds the number of interfaces probed at once.
	// Default: 4
	Workers int `yaml:"workers"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return errors.New("reconcile: config: Interval must not be negative")
	}
	if c.Interval != 0 && c.Interval < time.Second {
		return errors.New("reconcile: config: Interval must be at least 1s")
	}
	if c.Workers < 1 {
		return errors.New("reconcile: config: Workers must be at least 1")
	}
	return nil
}
