// Package neighbor reads the OS neighbor (ARP) table and link operational
// state for a single interface.
package neighbor

import (
	"context"
	"net"
	"net/netip"
)

// Neighbor reachability states as reported by the kernel.
const (
	StateReachable  = "REACHABLE"
	StateStale      = "STALE"
	StateDelay      = "DELAY"
	StateProbe      = "PROBE"
	StateFailed     = "FAILED"
	StatePermanent  = "PERMANENT"
	StateNoARP      = "NOARP"
	StateIncomplete = "INCOMPLETE"
	StateNone       = "NONE"
)

// Entry is one resolved IPv4 neighbor of an interface.
type Entry struct {
	IP           netip.Addr
	HardwareAddr net.HardwareAddr
	State        string
}

// Directory lists the neighbors known for an interface.
// Every call is a fresh query. A missing or down interface yields an empty
// result, not an error.
type Directory interface {
	List(ctx context.Context, iface string) ([]Entry, error)
}

// LinkState reports whether an interface is operationally up.
// A missing interface is reported as down without an error.
type LinkState interface {
	OperUp(iface string) (bool, error)
}

// Filter keeps the entries that carry a valid IPv4 address and a link
// address. When reachableOnly is set, only REACHABLE entries survive.
// Table order is preserved.
func Filter(entries []Entry, reachableOnly bool) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IP.IsValid() || !e.IP.Is4() {
			continue
		}
		if len(e.HardwareAddr) == 0 || isZeroHardwareAddr(e.HardwareAddr) {
			continue
		}
		if reachableOnly && e.State != StateReachable {
			continue
		}
		out = append(out, e)
	}
	return out
}

func isZeroHardwareAddr(hw net.HardwareAddr) bool {
	for _, b := range hw {
		if b != 0 {
			return false
		}
	}
	return true
}
