//go:build !linux

package cmd

import (
	"errors"
	"log/slog"

	"github.com/plexsphere/uplinkd/internal/agent"
)

func newPlatform(*agent.AgentConfig, bool, *slog.Logger) (*platform, error) {
	return nil, errors.New("uplinkd needs Linux netlink and AF_PACKET sockets")
}
