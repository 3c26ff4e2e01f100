package probe

import (
	"net/netip"
	"testing"

	"golang.org/x/net/bpf"
)

func runFilter(t *testing.T, raw []bpf.RawInstruction, frame []byte) bool {
	t.Helper()
	prog, ok := bpf.Disassemble(raw)
	if !ok {
		t.Fatal("filter contains undecodable instructions")
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	n, err := vm.Run(frame)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return n > 0
}

func TestFlowFilter(t *testing.T) {
	syn := testSYN()
	raw, err := flowFilter(syn)
	if err != nil {
		t.Fatalf("flowFilter: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*segment)
		frame  func([]byte)
		want   bool
	}{
		{name: "syn-ack", want: true},
		{name: "rst", mutate: func(s *segment) { s.Flags = tcpFlagRST | tcpFlagACK }, want: true},
		{name: "other source", mutate: func(s *segment) { s.SrcIP = netip.MustParseAddr("8.8.8.8") }},
		{name: "other source port", mutate: func(s *segment) { s.SrcPort = 443 }},
		{name: "other destination port", mutate: func(s *segment) { s.DstPort = syn.SrcPort + 1 }},
		{name: "our own syn", mutate: func(s *segment) { *s = syn }},
		{name: "udp", frame: func(b []byte) { b[ethHeaderLen+9] = 17 }},
		{name: "arp", frame: func(b []byte) { b[12], b[13] = 0x08, 0x06 }},
		{name: "later fragment", frame: func(b []byte) { b[ethHeaderLen+7] = 0x10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := answer(syn, tcpFlagSYN|tcpFlagACK)
			if tt.mutate != nil {
				tt.mutate(&a)
			}
			frame, err := marshalFrame(a)
			if err != nil {
				t.Fatalf("marshalFrame: %v", err)
			}
			if tt.frame != nil {
				tt.frame(frame)
			}
			if got := runFilter(t, raw, frame); got != tt.want {
				t.Errorf("accepted = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlowFilter_RejectsIPv6Target(t *testing.T) {
	s := testSYN()
	s.DstIP = netip.MustParseAddr("2001:db8::1")
	if _, err := flowFilter(s); err == nil {
		t.Error("expected error for IPv6 target")
	}
}
