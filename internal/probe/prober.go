// Package probe implements the TCP SYN liveness probe used to prove that a
// gateway forwards traffic end to end.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/bpf"
)

const (
	// DefaultPort is the TCP port probed when a request does not name one.
	DefaultPort = 80

	// DefaultTimeout bounds the wait for a response when a request does not
	// carry its own timeout.
	DefaultTimeout = time.Second

	// readSlice caps a single blocking read so cancellation is noticed.
	readSlice = 100 * time.Millisecond

	minSourcePort = 1024
	maxFrameSize  = 2048
)

// errReadTimeout is returned by frameConn.ReadFrame when the deadline passes.
var errReadTimeout = errors.New("probe: read timeout")

// Request describes a single probe: a SYN to Target:Port sent out Interface
// and framed to HardwareAddr, the link address of the gateway under test.
type Request struct {
	Interface    string
	HardwareAddr net.HardwareAddr
	Target       netip.Addr
	Port         uint16
	Timeout      time.Duration
}

// Prober sends one liveness probe. Probe reports true only when a SYN-ACK
// answers the probe before the timeout; every failure is reported as false.
type Prober interface {
	Probe(ctx context.Context, req Request) bool
}

// linkInfo is the local addressing of the interface a probe leaves through.
type linkInfo struct {
	Index        int
	HardwareAddr net.HardwareAddr
	Addr         netip.Addr
}

// linkResolver looks up the local addressing of an interface.
type linkResolver interface {
	Resolve(iface string) (linkInfo, error)
}

// frameConn sends and receives raw link-layer frames on one interface.
type frameConn interface {
	WriteFrame(b []byte) error
	// ReadFrame blocks until a frame arrives or deadline passes, in which
	// case it returns errReadTimeout.
	ReadFrame(b []byte, deadline time.Time) (int, error)
	Close() error
}

// dialFunc opens a frameConn bound to the interface with the given index.
// A non-empty filter is attached before any frame is received.
type dialFunc func(ifindex int, filter []bpf.RawInstruction) (frameConn, error)

// SYNProber implements Prober with a raw link-layer socket. Each Probe call
// opens its own socket, so a SYNProber is safe for concurrent use.
type SYNProber struct {
	resolver linkResolver
	dial     dialFunc
	logger   *slog.Logger
}

// Probe sends one SYN and waits for the matching answer.
func (p *SYNProber) Probe(ctx context.Context, req Request) bool {
	log := p.logger.With(
		"component", "probe",
		"interface", req.Interface,
		"target", req.Target.String(),
	)

	if req.Port == 0 {
		req.Port = DefaultPort
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	deadline := time.Now().Add(req.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	link, err := p.resolver.Resolve(req.Interface)
	if err != nil {
		log.Debug("probe skipped: cannot resolve interface", "error", err)
		return false
	}

	syn := segment{
		SrcMAC:  link.HardwareAddr,
		DstMAC:  req.HardwareAddr,
		SrcIP:   link.Addr,
		DstIP:   req.Target,
		SrcPort: uint16(minSourcePort + rand.IntN(65536-minSourcePort)),
		DstPort: req.Port,
		Seq:     rand.Uint32(),
		Flags:   tcpFlagSYN,
		IPID:    uint16(rand.Uint32()),
	}
	frame, err := marshalFrame(syn)
	if err != nil {
		log.Debug("probe skipped: cannot build frame", "error", err)
		return false
	}

	filter, err := flowFilter(syn)
	if err != nil {
		log.Debug("probe skipped: cannot build socket filter", "error", err)
		return false
	}

	conn, err := p.dial(link.Index, filter)
	if err != nil {
		log.Debug("probe skipped: cannot open socket", "error", err)
		return false
	}
	defer conn.Close()

	log.Debug("sending SYN",
		"port", req.Port,
		"via", req.HardwareAddr.String(),
		"source_port", syn.SrcPort,
		"timeout", req.Timeout,
	)
	if err := conn.WriteFrame(frame); err != nil {
		log.Debug("probe failed: send", "error", err)
		return false
	}

	buf := make([]byte, maxFrameSize)
	dec := newFrameDecoder()
	for {
		if ctx.Err() != nil {
			return false
		}
		now := time.Now()
		if !now.Before(deadline) {
			log.Debug("no TCP response received")
			return false
		}
		readDeadline := now.Add(readSlice)
		if deadline.Before(readDeadline) {
			readDeadline = deadline
		}

		n, err := conn.ReadFrame(buf, readDeadline)
		if errors.Is(err, errReadTimeout) {
			continue
		}
		if err != nil {
			log.Debug("probe failed: receive", "error", err)
			return false
		}

		r, err := dec.decode(buf[:n])
		if err != nil || !r.answers(syn) {
			continue
		}
		ok := r.isSYNACK()
		log.Debug("TCP response", "flags", r.Flags, "syn_ack", ok)
		return ok
	}
}
