// Package gateway decides, per interface, whether the uplink is healthy and
// which neighbor acts as its gateway.
package gateway

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/plexsphere/uplinkd/internal/neighbor"
	"github.com/plexsphere/uplinkd/internal/probe"
	"github.com/plexsphere/uplinkd/internal/uplink"
)

// Phase is the selector state an interface ended a cycle in.
type Phase string

const (
	PhaseDown              Phase = "down"
	PhaseNoNeighbors       Phase = "no_neighbors"
	PhaseProbingCurrent    Phase = "probing_current"
	PhaseProbingCandidates Phase = "probing_candidates"
	PhaseHealthy           Phase = "healthy"
	PhaseUnhealthy         Phase = "unhealthy"
)

// Verdict is the outcome of one selection for one interface.
type Verdict struct {
	Healthy bool
	// Gateway is valid only when Healthy is true.
	Gateway netip.Addr
	Phase   Phase
	// Probed lists the neighbors probed this cycle, in probe order.
	Probed []netip.Addr
}

// State is the per-interface memory kept between cycles.
type State struct {
	// Remembered is the last gateway proven healthy; probed first next cycle.
	Remembered netip.Addr
	Phase      Phase
}

// Selector runs the gateway selection algorithm. It is safe for concurrent
// use as long as each interface is selected by one goroutine at a time.
type Selector struct {
	links     neighbor.LinkState
	directory neighbor.Directory
	prober    probe.Prober
	logger    *slog.Logger

	mu     sync.Mutex
	states map[string]*State
}

// NewSelector returns a Selector with no remembered gateways.
func NewSelector(links neighbor.LinkState, directory neighbor.Directory, prober probe.Prober, logger *slog.Logger) *Selector {
	return &Selector{
		links:     links,
		directory: directory,
		prober:    prober,
		logger:    logger,
		states:    make(map[string]*State),
	}
}

// State returns a copy of the state recorded for iface.
func (s *Selector) State(iface string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[iface]; ok {
		return *st
	}
	return State{}
}

func (s *Selector) state(iface string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[iface]
	if !ok {
		st = &State{}
		s.states[iface] = st
	}
	return st
}

// Select evaluates iface once:
//  1. a missing or non-operational link is unhealthy without probing;
//  2. an empty neighbor table is unhealthy;
//  3. the remembered gateway, if still a neighbor, is probed first;
//  4. the remaining neighbors are probed in table order;
//  5. the first neighbor answering the probe becomes the gateway.
func (s *Selector) Select(ctx context.Context, iface uplink.Interface) Verdict {
	st := s.state(iface.Name)
	s.mu.Lock()
	remembered := st.Remembered
	s.mu.Unlock()

	v := s.evaluate(ctx, iface, st, remembered)

	s.mu.Lock()
	st.Phase = v.Phase
	changed := v.Healthy && v.Gateway != st.Remembered
	if changed {
		st.Remembered = v.Gateway
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info("gateway selected",
			"component", "gateway",
			"interface", iface.Name,
			"gateway", v.Gateway.String(),
		)
	}
	return v
}

func (s *Selector) setPhase(st *State, p Phase) {
	s.mu.Lock()
	st.Phase = p
	s.mu.Unlock()
}

func (s *Selector) evaluate(ctx context.Context, iface uplink.Interface, st *State, remembered netip.Addr) Verdict {
	log := s.logger.With("component", "gateway", "interface", iface.Name)

	up, err := s.links.OperUp(iface.Name)
	if err != nil {
		log.Warn("link state lookup failed", "error", err)
		return Verdict{Phase: PhaseDown}
	}
	if !up {
		log.Debug("interface is down or missing")
		return Verdict{Phase: PhaseDown}
	}

	neighbors, err := s.directory.List(ctx, iface.Name)
	if err != nil {
		log.Warn("neighbor query failed", "error", err)
		return Verdict{Phase: PhaseNoNeighbors}
	}
	if len(neighbors) == 0 {
		log.Debug("no usable neighbors")
		return Verdict{Phase: PhaseNoNeighbors}
	}

	var probed []netip.Addr
	var tried netip.Addr

	if remembered.IsValid() {
		s.setPhase(st, PhaseProbingCurrent)
		for _, n := range neighbors {
			if n.IP != remembered {
				continue
			}
			probed = append(probed, n.IP)
			tried = n.IP
			if s.probe(ctx, iface, n) {
				return Verdict{Healthy: true, Gateway: n.IP, Phase: PhaseHealthy, Probed: probed}
			}
			log.Info("remembered gateway failed probe", "gateway", n.IP.String())
			break
		}
	}

	s.setPhase(st, PhaseProbingCandidates)
	for _, n := range neighbors {
		if n.IP == tried {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		probed = append(probed, n.IP)
		if s.probe(ctx, iface, n) {
			return Verdict{Healthy: true, Gateway: n.IP, Phase: PhaseHealthy, Probed: probed}
		}
	}

	log.Debug("no neighbor answered probe", "probed", len(probed))
	return Verdict{Phase: PhaseUnhealthy, Probed: probed}
}

func (s *Selector) probe(ctx context.Context, iface uplink.Interface, n neighbor.Entry) bool {
	return s.prober.Probe(ctx, probe.Request{
		Interface:    iface.Name,
		HardwareAddr: n.HardwareAddr,
		Target:       iface.TargetIP,
		Port:         iface.TargetPort,
		Timeout:      iface.ProbeTimeout,
	})
}
