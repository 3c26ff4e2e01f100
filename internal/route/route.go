// Package route installs and withdraws per-interface default routes and keeps
// the authoritative record of the routes this process installed.
package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
)

// Backend kinds accepted in configuration.
const (
	KindFRR    = "frr"
	KindKernel = "kernel"
)

// ErrExists is wrapped by a data plane when the route is already present.
// Backends treat it as a successful install.
var ErrExists = errors.New("route: already exists")

// Spec identifies one default route: 0.0.0.0/0 via Gateway dev Interface
// with priority Metric.
type Spec struct {
	Interface string
	Gateway   netip.Addr
	Metric    int
}

// Installed is the record kept for a route this process installed.
type Installed struct {
	Gateway netip.Addr `json:"gateway"`
	Metric  int        `json:"metric"`
}

// Backend manages default routes. Implementations must be idempotent:
//   - AddRoute with the recorded gateway and metric re-sends the install and
//     treats an existing route as success;
//   - AddRoute with a different gateway withdraws the recorded route first;
//   - RemoveRoute for an interface without a record makes no data-plane call.
type Backend interface {
	// Name returns the backend kind.
	Name() string

	// VerifyAvailable checks once at startup that routes can be managed.
	VerifyAvailable(ctx context.Context) error

	AddRoute(ctx context.Context, spec Spec) error
	RemoveRoute(ctx context.Context, iface string) error

	// Installed returns a copy of the routes currently recorded.
	Installed() map[string]Installed

	// Flush withdraws every recorded route.
	Flush(ctx context.Context) error
}

// dataPlane is the mechanism-specific half of a backend.
type dataPlane interface {
	install(ctx context.Context, spec Spec) error
	withdraw(ctx context.Context, spec Spec) error
}

// Table maps interface names to the route installed through them.
// At most one entry exists per interface.
type Table struct {
	mu     sync.Mutex
	routes map[string]Installed
	locks  map[string]*sync.Mutex
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		routes: make(map[string]Installed),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Get returns the record for iface.
func (t *Table) Get(iface string) (Installed, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[iface]
	return r, ok
}

// Snapshot returns a copy of all records.
func (t *Table) Snapshot() map[string]Installed {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Installed, len(t.routes))
	for k, v := range t.routes {
		out[k] = v
	}
	return out
}

func (t *Table) set(iface string, r Installed) {
	t.mu.Lock()
	t.routes[iface] = r
	t.mu.Unlock()
}

func (t *Table) delete(iface string) {
	t.mu.Lock()
	delete(t.routes, iface)
	t.mu.Unlock()
}

// lock serializes operations on one interface and returns the unlock func.
func (t *Table) lock(iface string) func() {
	t.mu.Lock()
	l, ok := t.locks[iface]
	if !ok {
		l = &sync.Mutex{}
		t.locks[iface] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// tracker implements the record-keeping half of Backend over a dataPlane.
type tracker struct {
	table     *Table
	plane     dataPlane
	component string
	logger    *slog.Logger
}

func (t *tracker) AddRoute(ctx context.Context, spec Spec) error {
	unlock := t.table.lock(spec.Interface)
	defer unlock()

	log := t.logger.With(
		"component", t.component,
		"interface", spec.Interface,
		"gateway", spec.Gateway.String(),
		"metric", spec.Metric,
	)

	prev, ok := t.table.Get(spec.Interface)
	if ok && prev.Gateway == spec.Gateway && prev.Metric == spec.Metric {
		return t.refresh(ctx, spec, log)
	}
	if ok {
		log.Info("gateway changed, replacing route", "previous_gateway", prev.Gateway.String())
		t.table.delete(spec.Interface)
		stale := Spec{Interface: spec.Interface, Gateway: prev.Gateway, Metric: prev.Metric}
		if err := t.plane.withdraw(ctx, stale); err != nil {
			log.Warn("failed to withdraw previous route", "previous_gateway", prev.Gateway.String(), "error", err)
		}
	}

	if err := t.plane.install(ctx, spec); err != nil {
		if !errors.Is(err, ErrExists) {
			return fmt.Errorf("%s: add route for %s via %s: %w", t.component, spec.Interface, spec.Gateway, err)
		}
		log.Debug("route already present in data plane, tracking it")
	}

	t.table.set(spec.Interface, Installed{Gateway: spec.Gateway, Metric: spec.Metric})
	log.Info("route installed")
	return nil
}

// refresh re-sends an already recorded route so one removed behind our back
// (link flap, DHCP flush, ip route flush) comes back on the next healthy
// cycle. ErrExists is the expected answer.
func (t *tracker) refresh(ctx context.Context, spec Spec, log *slog.Logger) error {
	err := t.plane.install(ctx, spec)
	switch {
	case err == nil:
		// FRR accepts a repeated static route silently, so nil does not
		// prove the route was missing.
		log.Debug("route refreshed")
		return nil
	case errors.Is(err, ErrExists):
		log.Debug("route already installed")
		return nil
	default:
		t.table.delete(spec.Interface)
		return fmt.Errorf("%s: refresh route for %s via %s: %w", t.component, spec.Interface, spec.Gateway, err)
	}
}

// RemoveRoute drops the record before withdrawing, so a failed withdrawal
// never leaves a record that cannot be cleared.
func (t *tracker) RemoveRoute(ctx context.Context, iface string) error {
	unlock := t.table.lock(iface)
	defer unlock()

	prev, ok := t.table.Get(iface)
	if !ok {
		t.logger.Debug("no route installed",
			"component", t.component,
			"interface", iface,
		)
		return nil
	}
	t.table.delete(iface)

	spec := Spec{Interface: iface, Gateway: prev.Gateway, Metric: prev.Metric}
	if err := t.plane.withdraw(ctx, spec); err != nil {
		return fmt.Errorf("%s: remove route for %s via %s: %w", t.component, iface, prev.Gateway, err)
	}

	t.logger.Info("route withdrawn",
		"component", t.component,
		"interface", iface,
		"gateway", prev.Gateway.String(),
		"metric", prev.Metric,
	)
	return nil
}

func (t *tracker) Installed() map[string]Installed {
	return t.table.Snapshot()
}

func (t *tracker) Flush(ctx context.Context) error {
	routes := t.table.Snapshot()
	names := make([]string, 0, len(routes))
	for name := range routes {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := t.RemoveRoute(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
