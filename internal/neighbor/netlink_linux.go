//go:build linux

package neighbor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// netlinkHandle is the subset of netlink.Handle used by this package.
type netlinkHandle interface {
	LinkByName(name string) (netlink.Link, error)
	NeighList(linkIndex, family int) ([]netlink.Neigh, error)
}

var _ netlinkHandle = (*netlink.Handle)(nil)

// NetlinkDirectory implements Directory and LinkState using Linux netlink.
type NetlinkDirectory struct {
	handle        netlinkHandle
	reachableOnly bool
	logger        *slog.Logger
}

// NewNetlinkDirectory opens a netlink handle in the current network namespace.
// When reachableOnly is true, neighbors not in the REACHABLE state are skipped.
func NewNetlinkDirectory(reachableOnly bool, logger *slog.Logger) (*NetlinkDirectory, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("neighbor: open netlink handle: %w", err)
	}
	return &NetlinkDirectory{handle: h, reachableOnly: reachableOnly, logger: logger}, nil
}

// List returns the IPv4 neighbors of iface that have a resolved link address.
func (d *NetlinkDirectory) List(_ context.Context, iface string) ([]Entry, error) {
	link, err := d.handle.LinkByName(iface)
	if err != nil {
		if isLinkNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("neighbor: lookup interface %q: %w", iface, err)
	}

	neighs, err := d.handle.NeighList(link.Attrs().Index, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("neighbor: list neighbors of %q: %w", iface, err)
	}

	entries := make([]Entry, 0, len(neighs))
	for _, n := range neighs {
		ip4 := n.IP.To4()
		if ip4 == nil {
			continue
		}
		addr, _ := netip.AddrFromSlice(ip4)
		entries = append(entries, Entry{
			IP:           addr,
			HardwareAddr: n.HardwareAddr,
			State:        stateName(n.State),
		})
	}

	out := Filter(entries, d.reachableOnly)
	d.logger.Debug("neighbor table queried",
		"component", "neighbor",
		"interface", iface,
		"total", len(neighs),
		"usable", len(out),
	)
	return out, nil
}

// OperUp reports whether iface exists and its operational state is up.
func (d *NetlinkDirectory) OperUp(iface string) (bool, error) {
	link, err := d.handle.LinkByName(iface)
	if err != nil {
		if isLinkNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("neighbor: lookup interface %q: %w", iface, err)
	}
	return link.Attrs().OperState == netlink.OperUp, nil
}

func isLinkNotFound(err error) bool {
	var notFound netlink.LinkNotFoundError
	return errors.As(err, &notFound)
}

func stateName(state int) string {
	switch {
	case state&netlink.NUD_REACHABLE != 0:
		return StateReachable
	case state&netlink.NUD_STALE != 0:
		return StateStale
	case state&netlink.NUD_DELAY != 0:
		return StateDelay
	case state&netlink.NUD_PROBE != 0:
		return StateProbe
	case state&netlink.NUD_FAILED != 0:
		return StateFailed
	case state&netlink.NUD_PERMANENT != 0:
		return StatePermanent
	case state&netlink.NUD_NOARP != 0:
		return StateNoARP
	case state&netlink.NUD_INCOMPLETE != 0:
		return StateIncomplete
	default:
		return StateNone
	}
}

