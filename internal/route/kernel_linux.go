//go:build linux

package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// netlinkHandle is the subset of netlink.Handle used by KernelBackend.
type netlinkHandle interface {
	LinkByName(name string) (netlink.Link, error)
	RouteAdd(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
	RouteList(link netlink.Link, family int) ([]netlink.Route, error)
}

var _ netlinkHandle = (*netlink.Handle)(nil)

// KernelBackend manages default routes directly in the kernel main table
// over netlink.
type KernelBackend struct {
	tracker
	handle     netlinkHandle
	netAdminFn func() (bool, error)
	logger     *slog.Logger
}

// NewKernelBackend opens a netlink handle in the current network namespace.
func NewKernelBackend(logger *slog.Logger) (*KernelBackend, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("route.kernel: open netlink handle: %w", err)
	}
	return newKernelBackend(h, hasNetAdmin, logger), nil
}

func newKernelBackend(h netlinkHandle, netAdminFn func() (bool, error), logger *slog.Logger) *KernelBackend {
	b := &KernelBackend{handle: h, netAdminFn: netAdminFn, logger: logger}
	b.tracker = tracker{
		table:     NewTable(),
		plane:     b,
		component: "route.kernel",
		logger:    logger,
	}
	return b
}

// Name returns KindKernel.
func (b *KernelBackend) Name() string { return KindKernel }

// VerifyAvailable lists the IPv4 routing table and checks that the process
// may modify it.
func (b *KernelBackend) VerifyAvailable(_ context.Context) error {
	if _, err := b.handle.RouteList(nil, netlink.FAMILY_V4); err != nil {
		return fmt.Errorf("route.kernel: list routes: %w", err)
	}
	ok, err := b.netAdminFn()
	if err != nil {
		return fmt.Errorf("route.kernel: read capabilities: %w", err)
	}
	if !ok {
		return errors.New("route.kernel: CAP_NET_ADMIN is required to manage routes")
	}
	b.logger.Info("kernel routing validated", "component", "route.kernel")
	return nil
}

func (b *KernelBackend) install(_ context.Context, spec Spec) error {
	link, err := b.handle.LinkByName(spec.Interface)
	if err != nil {
		return fmt.Errorf("lookup interface %q: %w", spec.Interface, err)
	}
	if err := b.handle.RouteAdd(defaultRoute(link.Attrs().Index, spec)); err != nil {
		if errors.Is(err, syscall.EEXIST) {
			return fmt.Errorf("%w: %v", ErrExists, err)
		}
		return err
	}
	return nil
}

func (b *KernelBackend) withdraw(_ context.Context, spec Spec) error {
	link, err := b.handle.LinkByName(spec.Interface)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			// Routes through a vanished link are removed by the kernel.
			b.logger.Warn("interface not found, nothing to withdraw",
				"component", "route.kernel",
				"interface", spec.Interface,
			)
			return nil
		}
		return fmt.Errorf("lookup interface %q: %w", spec.Interface, err)
	}
	if err := b.handle.RouteDel(defaultRoute(link.Attrs().Index, spec)); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			b.logger.Debug("route not found, idempotent success",
				"component", "route.kernel",
				"interface", spec.Interface,
			)
			return nil
		}
		return err
	}
	return nil
}

func defaultRoute(linkIndex int, spec Spec) *netlink.Route {
	return &netlink.Route{
		LinkIndex: linkIndex,
		Dst:       &net.IPNet{IP: net.IPv4zero.To4(), Mask: net.CIDRMask(0, 32)},
		Gw:        net.IP(spec.Gateway.AsSlice()),
		Priority:  spec.Metric,
		Family:    netlink.FAMILY_V4,
	}
}

// hasNetAdmin reports whether CAP_NET_ADMIN is in the effective set.
func hasNetAdmin() (bool, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false, err
	}
	const bit = uint32(1) << (unix.CAP_NET_ADMIN % 32)
	return data[unix.CAP_NET_ADMIN/32].Effective&bit != 0, nil
}
