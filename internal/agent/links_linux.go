//go:build linux

package agent

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// NetlinkLinks lists interfaces through rtnetlink.
type NetlinkLinks struct{}

// LinkNames returns the names of all links in the current namespace.
func (NetlinkLinks) LinkNames() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("agent: list links: %w", err)
	}
	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.Attrs().Name)
	}
	return names, nil
}
