package gateway

import (
	"context"
	"errors"
	"net/netip"
	"reflect"
	"testing"
	"time"

	"github.com/plexsphere/uplinkd/internal/uplink"
)

const (
	macA = "aa:bb:00:00:00:01"
	macB = "cc:dd:00:00:00:02"
	macC = "ee:ff:00:00:00:03"
)

func wan0() uplink.Interface {
	return uplink.Interface{
		Name:          "wan0",
		Metric:        10,
		CheckInterval: 5 * time.Second,
		TargetIP:      netip.MustParseAddr("1.1.1.1"),
		TargetPort:    80,
		ProbeTimeout:  time.Second,
	}
}

func newTestSelector() (*Selector, *mockLinks, *mockDirectory, *mockProber) {
	links := &mockLinks{up: map[string]bool{"wan0": true}}
	dir := &mockDirectory{}
	prober := &mockProber{}
	return NewSelector(links, dir, prober, discardLogger()), links, dir, prober
}

func TestSelect_DownInterfaceSkipsProbing(t *testing.T) {
	sel, links, dir, prober := newTestSelector()
	links.up["wan0"] = false
	dir.set("wan0", entry("10.0.0.1", macA))
	prober.setAlive(macA, true)

	v := sel.Select(context.Background(), wan0())

	if v.Healthy || v.Gateway.IsValid() {
		t.Fatalf("verdict = %+v, want unhealthy without gateway", v)
	}
	if v.Phase != PhaseDown {
		t.Errorf("Phase = %q, want %q", v.Phase, PhaseDown)
	}
	if dir.calls != 0 {
		t.Errorf("directory called %d times, want 0", dir.calls)
	}
	if len(prober.calls) != 0 {
		t.Errorf("prober called %d times, want 0", len(prober.calls))
	}
}

func TestSelect_LinkStateErrorIsDown(t *testing.T) {
	sel, links, dir, _ := newTestSelector()
	links.err = errors.New("netlink: permission denied")

	v := sel.Select(context.Background(), wan0())
	if v.Healthy || v.Phase != PhaseDown {
		t.Fatalf("verdict = %+v, want down", v)
	}
	if dir.calls != 0 {
		t.Errorf("directory called %d times, want 0", dir.calls)
	}
}

func TestSelect_NoNeighbors(t *testing.T) {
	sel, _, _, prober := newTestSelector()

	v := sel.Select(context.Background(), wan0())
	if v.Healthy || v.Phase != PhaseNoNeighbors {
		t.Fatalf("verdict = %+v, want no_neighbors", v)
	}
	if len(prober.calls) != 0 {
		t.Errorf("prober called %d times, want 0", len(prober.calls))
	}
}

func TestSelect_DirectoryErrorIsNoNeighbors(t *testing.T) {
	sel, _, dir, _ := newTestSelector()
	dir.err = errors.New("boom")

	v := sel.Select(context.Background(), wan0())
	if v.Healthy || v.Phase != PhaseNoNeighbors {
		t.Fatalf("verdict = %+v, want no_neighbors", v)
	}
}

func TestSelect_FirstNeighborTimesOutSecondAnswers(t *testing.T) {
	sel, _, dir, prober := newTestSelector()
	dir.set("wan0", entry("10.0.0.1", macA), entry("10.0.0.2", macB))
	prober.setAlive(macB, true)

	v := sel.Select(context.Background(), wan0())

	if !v.Healthy || v.Gateway != netip.MustParseAddr("10.0.0.2") {
		t.Fatalf("verdict = %+v, want healthy via 10.0.0.2", v)
	}
	if got, want := prober.probedMACs(), []string{macA, macB}; !reflect.DeepEqual(got, want) {
		t.Errorf("probe order = %v, want %v", got, want)
	}
	if req := prober.calls[0]; req.Target != netip.MustParseAddr("1.1.1.1") || req.Port != 80 || req.Interface != "wan0" {
		t.Errorf("probe request = %+v, want wan0 -> 1.1.1.1:80", req)
	}
	if st := sel.State("wan0"); st.Remembered != netip.MustParseAddr("10.0.0.2") || st.Phase != PhaseHealthy {
		t.Errorf("state = %+v, want remembered 10.0.0.2 healthy", st)
	}
}

func TestSelect_RememberedGatewayProbedFirst(t *testing.T) {
	sel, _, dir, prober := newTestSelector()
	dir.set("wan0", entry("10.0.0.1", macA), entry("10.0.0.2", macB))
	prober.setAlive(macA, true)
	prober.setAlive(macB, true)

	// First cycle picks 10.0.0.1 (table order).
	sel.Select(context.Background(), wan0())

	// Remember 10.0.0.2 by making it the only live one for a cycle.
	prober.setAlive(macA, false)
	sel.Select(context.Background(), wan0())
	if st := sel.State("wan0"); st.Remembered != netip.MustParseAddr("10.0.0.2") {
		t.Fatalf("remembered = %s, want 10.0.0.2", st.Remembered)
	}

	// Both live again: the remembered gateway wins and is the only probe.
	prober.setAlive(macA, true)
	prober.reset()
	v := sel.Select(context.Background(), wan0())

	if v.Gateway != netip.MustParseAddr("10.0.0.2") {
		t.Fatalf("gateway = %s, want remembered 10.0.0.2", v.Gateway)
	}
	if got, want := prober.probedMACs(), []string{macB}; !reflect.DeepEqual(got, want) {
		t.Errorf("probe order = %v, want %v", got, want)
	}
}

func TestSelect_RememberedFailsSecondSucceedsNoReprobe(t *testing.T) {
	sel, _, dir, prober := newTestSelector()
	dir.set("wan0", entry("10.0.0.1", macA), entry("10.0.0.2", macB), entry("10.0.0.3", macC))
	prober.setAlive(macB, true)
	sel.Select(context.Background(), wan0()) // remembers 10.0.0.2

	prober.setAlive(macB, false)
	prober.setAlive(macC, true)
	prober.reset()

	v := sel.Select(context.Background(), wan0())

	if !v.Healthy || v.Gateway != netip.MustParseAddr("10.0.0.3") {
		t.Fatalf("verdict = %+v, want healthy via 10.0.0.3", v)
	}
	// Remembered first, then table order skipping it.
	if got, want := prober.probedMACs(), []string{macB, macA, macC}; !reflect.DeepEqual(got, want) {
		t.Errorf("probe order = %v, want %v", got, want)
	}
	if st := sel.State("wan0"); st.Remembered != netip.MustParseAddr("10.0.0.3") {
		t.Errorf("remembered = %s, want 10.0.0.3", st.Remembered)
	}
}

func TestSelect_RememberedGatewayVanished(t *testing.T) {
	sel, _, dir, prober := newTestSelector()
	dir.set("wan0", entry("10.0.0.1", macA), entry("10.0.0.2", macB))
	prober.setAlive(macB, true)
	sel.Select(context.Background(), wan0()) // remembers 10.0.0.2

	// 10.0.0.2 leaves the table; 10.0.0.1 now answers.
	dir.set("wan0", entry("10.0.0.1", macA))
	prober.setAlive(macA, true)
	prober.reset()

	v := sel.Select(context.Background(), wan0())
	if !v.Healthy || v.Gateway != netip.MustParseAddr("10.0.0.1") {
		t.Fatalf("verdict = %+v, want healthy via 10.0.0.1", v)
	}
	if got, want := prober.probedMACs(), []string{macA}; !reflect.DeepEqual(got, want) {
		t.Errorf("probe order = %v, want %v", got, want)
	}

	// And when it fails as well the interface is unhealthy.
	prober.setAlive(macA, false)
	v = sel.Select(context.Background(), wan0())
	if v.Healthy || v.Gateway.IsValid() || v.Phase != PhaseUnhealthy {
		t.Fatalf("verdict = %+v, want unhealthy", v)
	}
}

func TestSelect_UnhealthyKeepsRememberedGateway(t *testing.T) {
	sel, _, dir, prober := newTestSelector()
	dir.set("wan0", entry("10.0.0.1", macA))
	prober.setAlive(macA, true)
	sel.Select(context.Background(), wan0())

	prober.setAlive(macA, false)
	sel.Select(context.Background(), wan0())

	st := sel.State("wan0")
	if st.Remembered != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("remembered = %s, want 10.0.0.1 retained", st.Remembered)
	}
	if st.Phase != PhaseUnhealthy {
		t.Errorf("phase = %q, want %q", st.Phase, PhaseUnhealthy)
	}
}

func TestSelect_CancelledContextStopsEnumeration(t *testing.T) {
	sel, _, dir, prober := newTestSelector()
	dir.set("wan0", entry("10.0.0.1", macA), entry("10.0.0.2", macB))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := sel.Select(ctx, wan0())
	if v.Healthy {
		t.Fatalf("verdict = %+v, want unhealthy", v)
	}
	if len(prober.calls) != 0 {
		t.Errorf("prober called %d times after cancellation, want 0", len(prober.calls))
	}
}

func TestSelect_InterfacesAreIndependent(t *testing.T) {
	sel, links, dir, prober := newTestSelector()
	links.up["wan1"] = true
	dir.set("wan0", entry("10.0.0.1", macA))
	dir.set("wan1", entry("192.168.1.1", macB))
	prober.setAlive(macA, true)
	prober.setAlive(macB, true)

	wan1 := wan0()
	wan1.Name = "wan1"

	sel.Select(context.Background(), wan0())
	sel.Select(context.Background(), wan1)

	if got := sel.State("wan0").Remembered; got != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("wan0 remembered = %s, want 10.0.0.1", got)
	}
	if got := sel.State("wan1").Remembered; got != netip.MustParseAddr("192.168.1.1") {
		t.Errorf("wan1 remembered = %s, want 192.168.1.1", got)
	}
}
