// Package uplink defines the monitored interface record shared by the
// health-probing and route-management packages.
package uplink

import (
	"net/netip"
	"time"
)

// Interface is a monitored uplink. Instances are built once from
// configuration and never mutated afterwards; per-interface runtime state
// lives in the gateway selector.
type Interface struct {
	// Name is the OS device name, e.g. "wan0".
	Name string

	// Metric is the route priority used for the default route. Lower is preferred.
	Metric int

	// CheckInterval is the time between probes for this interface.
	CheckInterval time.Duration

	// TargetIP is the probe destination, reachable only via a working path.
	TargetIP netip.Addr

	// TargetPort is the TCP port the SYN probe is sent to.
	TargetPort uint16

	// ProbeTimeout bounds the wait for a SYN-ACK.
	ProbeTimeout time.Duration
}

// MinCheckInterval returns the shortest CheckInterval among ifaces, or zero
// when ifaces is empty.
func MinCheckInterval(ifaces []Interface) time.Duration {
	var shortest time.Duration
	for i, iface := range ifaces {
		if i == 0 || iface.CheckInterval < shortest {
			shortest = iface.CheckInterval
		}
	}
	return shortest
}
