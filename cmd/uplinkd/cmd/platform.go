package cmd

import (
	"github.com/plexsphere/uplinkd/internal/agent"
	"github.com/plexsphere/uplinkd/internal/neighbor"
	"github.com/plexsphere/uplinkd/internal/probe"
	"github.com/plexsphere/uplinkd/internal/route"
)

// platform bundles the OS-facing collaborators of the core.
type platform struct {
	links     neighbor.LinkState
	directory neighbor.Directory
	prober    probe.Prober
	backend   route.Backend
	lister    agent.LinkLister
}
