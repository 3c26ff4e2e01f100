package reconcile

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/plexsphere/uplinkd/internal/gateway"
	"github.com/plexsphere/uplinkd/internal/route"
	"github.com/plexsphere/uplinkd/internal/uplink"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockSelector is a test double for Selector.
type mockSelector struct {
	mu       sync.Mutex
	selectFn func(ctx context.Context, iface uplink.Interface) gateway.Verdict
	verdicts map[string]gateway.Verdict
	calls    []string
}

func (m *mockSelector) Select(ctx context.Context, iface uplink.Interface) gateway.Verdict {
	m.mu.Lock()
	m.calls = append(m.calls, iface.Name)
	fn := m.selectFn
	v := m.verdicts[iface.Name]
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, iface)
	}
	return v
}

func (m *mockSelector) set(iface string, v gateway.Verdict) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verdicts == nil {
		m.verdicts = make(map[string]gateway.Verdict)
	}
	m.verdicts[iface] = v
}

func (m *mockSelector) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// backendCall records a single route.Backend invocation.
type backendCall struct {
	Method    string
	Interface string
	Gateway   netip.Addr
	Metric    int
}

// mockBackend is a test double for route.Backend.
type mockBackend struct {
	mu        sync.Mutex
	calls     []backendCall
	addErr    error
	removeErr error
	addFn     func(spec route.Spec) error
	installed map[string]route.Installed
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) VerifyAvailable(context.Context) error { return nil }

func (m *mockBackend) AddRoute(_ context.Context, spec route.Spec) error {
	m.mu.Lock()
	m.calls = append(m.calls, backendCall{Method: "add", Interface: spec.Interface, Gateway: spec.Gateway, Metric: spec.Metric})
	fn := m.addFn
	err := m.addErr
	m.mu.Unlock()
	if fn != nil {
		err = fn(spec)
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.installed == nil {
		m.installed = make(map[string]route.Installed)
	}
	m.installed[spec.Interface] = route.Installed{Gateway: spec.Gateway, Metric: spec.Metric}
	return nil
}

func (m *mockBackend) RemoveRoute(_ context.Context, iface string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, backendCall{Method: "remove", Interface: iface})
	delete(m.installed, iface)
	return m.removeErr
}

func (m *mockBackend) Installed() map[string]route.Installed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]route.Installed, len(m.installed))
	for k, v := range m.installed {
		out[k] = v
	}
	return out
}

func (m *mockBackend) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installed = nil
	return nil
}

func (m *mockBackend) getCalls() []backendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]backendCall(nil), m.calls...)
}

func (m *mockBackend) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func healthy(gw string) gateway.Verdict {
	return gateway.Verdict{Healthy: true, Gateway: netip.MustParseAddr(gw), Phase: gateway.PhaseHealthy}
}

func unhealthy() gateway.Verdict {
	return gateway.Verdict{Phase: gateway.PhaseUnhealthy}
}

func ifaces(names ...string) []uplink.Interface {
	out := make([]uplink.Interface, len(names))
	for i, n := range names {
		out[i] = uplink.Interface{Name: n, Metric: 10 * (i + 1), CheckInterval: time.Second}
	}
	return out
}
