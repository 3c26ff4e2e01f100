//go:build linux

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/plexsphere/uplinkd/internal/agent"
	"github.com/plexsphere/uplinkd/internal/neighbor"
	"github.com/plexsphere/uplinkd/internal/probe"
	"github.com/plexsphere/uplinkd/internal/route"
)

// newPlatform opens the netlink and packet facilities. withBackend is false
// for commands that never touch routes.
func newPlatform(cfg *agent.AgentConfig, withBackend bool, logger *slog.Logger) (*platform, error) {
	dir, err := neighbor.NewNetlinkDirectory(cfg.Probe.ReachableOnly, logger)
	if err != nil {
		return nil, err
	}
	prober, err := probe.NewSYNProber(logger)
	if err != nil {
		return nil, err
	}
	p := &platform{
		links:     dir,
		directory: dir,
		prober:    prober,
		lister:    agent.NetlinkLinks{},
	}
	if !withBackend {
		return p, nil
	}

	switch cfg.Routing.Backend {
	case route.KindKernel:
		kb, err := route.NewKernelBackend(logger)
		if err != nil {
			return nil, err
		}
		p.backend = kb
	case route.KindFRR:
		p.backend = route.NewFRRBackend(cfg.Routing.FRR(), route.ExecRunner{}, logger)
	default:
		return nil, fmt.Errorf("unknown routing backend %q", cfg.Routing.Backend)
	}
	return p, nil
}
