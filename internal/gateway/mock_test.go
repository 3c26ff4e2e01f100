package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/plexsphere/uplinkd/internal/neighbor"
	"github.com/plexsphere/uplinkd/internal/probe"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockLinks is a test double for neighbor.LinkState.
type mockLinks struct {
	mu    sync.Mutex
	up    map[string]bool
	err   error
	calls int
}

func (m *mockLinks) OperUp(iface string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.up[iface], m.err
}

// mockDirectory is a test double for neighbor.Directory.
type mockDirectory struct {
	mu      sync.Mutex
	entries map[string][]neighbor.Entry
	err     error
	calls   int
}

func (m *mockDirectory) List(_ context.Context, iface string) ([]neighbor.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.entries[iface], nil
}

func (m *mockDirectory) set(iface string, entries ...neighbor.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string][]neighbor.Entry)
	}
	m.entries[iface] = entries
}

// mockProber is a test double for probe.Prober that answers by link address.
type mockProber struct {
	mu    sync.Mutex
	alive map[string]bool // keyed by hardware address string
	calls []probe.Request
}

func (m *mockProber) Probe(_ context.Context, req probe.Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	return m.alive[req.HardwareAddr.String()]
}

func (m *mockProber) setAlive(hw string, alive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alive == nil {
		m.alive = make(map[string]bool)
	}
	m.alive[hw] = alive
}

func (m *mockProber) probedMACs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.HardwareAddr.String()
	}
	return out
}

func (m *mockProber) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func entry(ip, mac string) neighbor.Entry {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		panic(err)
	}
	return neighbor.Entry{IP: netip.MustParseAddr(ip), HardwareAddr: hw, State: neighbor.StateReachable}
}
