package probe

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/bpf"
)

// Offsets into an Ethernet II frame carrying IPv4.
const (
	offEtherType = 12
	offIPv4      = 14
	offFragment  = offIPv4 + 6
	offProtocol  = offIPv4 + 9
	offSrcIP     = offIPv4 + 12

	etherTypeIPv4 = 0x0800
	protocolTCP   = 6
	fragmentMask  = 0x1fff
	captureLen    = 0xffff
)

// flowFilter returns a socket filter that passes only IPv4/TCP frames sent
// by the target of s from its destination port to the source port of s.
// The kernel then wakes the prober for the answer alone, not for every
// frame seen on a busy uplink.
func flowFilter(s segment) ([]bpf.RawInstruction, error) {
	if !s.DstIP.Is4() {
		return nil, errBadAddresses
	}
	target := s.DstIP.As4()

	// Jump offsets count instructions to skip; every miss lands on drop.
	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: etherTypeIPv4, SkipTrue: 10},
		bpf.LoadAbsolute{Off: offProtocol, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: protocolTCP, SkipTrue: 8},
		bpf.LoadAbsolute{Off: offSrcIP, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: binary.BigEndian.Uint32(target[:]), SkipTrue: 6},
		// Later fragments carry no TCP header.
		bpf.LoadAbsolute{Off: offFragment, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: fragmentMask, SkipTrue: 4},
		// X = IPv4 header length.
		bpf.LoadMemShift{Off: offIPv4},
		bpf.LoadIndirect{Off: offIPv4, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(s.DstPort)<<16 | uint32(s.SrcPort), SkipTrue: 1},
		bpf.RetConstant{Val: captureLen},
		bpf.RetConstant{Val: 0},
	}
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("probe: assemble socket filter: %w", err)
	}
	return raw, nil
}
