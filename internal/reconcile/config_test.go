package reconcile

import (
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", cfg.Workers, DefaultWorkers)
	}
	if cfg.Interval != 0 {
		t.Errorf("Interval = %v, want 0 (derived from interfaces)", cfg.Interval)
	}
	if cfg.ParallelProbes {
		t.Error("ParallelProbes should default to false")
	}
}

func TestConfig_DefaultsPreserveExisting(t *testing.T) {
	cfg := Config{Interval: 30 * time.Second, Workers: 8}
	cfg.ApplyDefaults()

	if cfg.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want %v", cfg.Interval, 30*time.Second)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
}

func TestConfig_ValidateRejectsNegativeInterval(t *testing.T) {
	cfg := Config{Interval: -1 * time.Second, Workers: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for negative Interval")
	}
}

func TestConfig_ValidateRejectsSubSecondInterval(t *testing.T) {
	cfg := Config{Interval: 500 * time.Millisecond, Workers: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for sub-second Interval")
	}
}

func TestConfig_ValidateRejectsZeroWorkers(t *testing.T) {
	cfg := Config{Workers: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for zero Workers")
	}
}

func TestConfig_ValidateAcceptsValid(t *testing.T) {
	for _, cfg := range []Config{
		{Workers: 1},
		{Interval: 30 * time.Second, Workers: 4, ParallelProbes: true},
	} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v, want nil", cfg, err)
		}
	}
}
