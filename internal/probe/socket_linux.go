//go:build linux

package probe

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// NewSYNProber returns a SYNProber that resolves interfaces over netlink and
// sends probes on AF_PACKET sockets. Sending requires CAP_NET_RAW.
func NewSYNProber(logger *slog.Logger) (*SYNProber, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("probe: open netlink handle: %w", err)
	}
	return &SYNProber{
		resolver: &netlinkResolver{handle: h},
		dial:     dialPacket,
		logger:   logger,
	}, nil
}

type netlinkResolver struct {
	handle *netlink.Handle
}

func (r *netlinkResolver) Resolve(iface string) (linkInfo, error) {
	link, err := r.handle.LinkByName(iface)
	if err != nil {
		return linkInfo{}, fmt.Errorf("probe: lookup interface %q: %w", iface, err)
	}
	attrs := link.Attrs()
	if len(attrs.HardwareAddr) != 6 {
		return linkInfo{}, fmt.Errorf("probe: interface %q has no Ethernet address", iface)
	}

	addrs, err := r.handle.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return linkInfo{}, fmt.Errorf("probe: list addresses of %q: %w", iface, err)
	}
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		if ip4 := a.IPNet.IP.To4(); ip4 != nil {
			addr, _ := netip.AddrFromSlice(ip4)
			return linkInfo{Index: attrs.Index, HardwareAddr: attrs.HardwareAddr, Addr: addr}, nil
		}
	}
	return linkInfo{}, fmt.Errorf("probe: interface %q has no IPv4 address", iface)
}

// packetConn is a frameConn over an AF_PACKET raw socket.
type packetConn struct {
	fd int
}

// dialPacket opens the socket with protocol 0, which receives nothing, and
// binds it to ETH_P_IP only once the filter is attached, so no unfiltered
// frame is ever queued.
func dialPacket(ifindex int, filter []bpf.RawInstruction) (frameConn, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("probe: open packet socket: %w", err)
	}
	if len(filter) > 0 {
		prog := make([]unix.SockFilter, len(filter))
		for i, ins := range filter {
			prog[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
		}
		fprog := unix.SockFprog{Len: uint16(len(prog)), Filter: &prog[0]}
		if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("probe: attach socket filter: %w", err)
		}
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  ifindex,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("probe: bind packet socket: %w", err)
	}
	return &packetConn{fd: fd}, nil
}

func (c *packetConn) WriteFrame(b []byte) error {
	return unix.Send(c.fd, b, 0)
}

func (c *packetConn) ReadFrame(b []byte, deadline time.Time) (int, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, errReadTimeout
		}
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		tv := unix.NsecToTimeval(remaining.Nanoseconds())
		if err := unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return 0, fmt.Errorf("probe: set receive timeout: %w", err)
		}

		n, from, err := unix.Recvfrom(c.fd, b, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, fmt.Errorf("probe: receive: %w", err)
		}
		// Our own SYN is looped back to packet sockets.
		if ll, ok := from.(*unix.SockaddrLinklayer); ok && ll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}
		return n, nil
	}
}

func (c *packetConn) Close() error {
	return unix.Close(c.fd)
}

func htons(v uint16) uint16 {
	return (v >> 8) | (v << 8)
}
