package probe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

const (
	defaultTTL     = 64
	mssOptionValue = 1460
	windowSize     = 65535

	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagRST = 0x04
	tcpFlagPSH = 0x08
	tcpFlagACK = 0x10
	tcpFlagURG = 0x20

	// synAckMask selects SYN and ACK; a live path answers with both set.
	synAckMask = tcpFlagSYN | tcpFlagACK
)

var (
	errNotIPv4      = errors.New("probe: not an IPv4 frame")
	errNotTCP       = errors.New("probe: not a TCP segment")
	errBadAddresses = errors.New("probe: frame addresses must be IPv4")
)

// segment describes one Ethernet/IPv4/TCP frame.
type segment struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   uint8
	IPID    uint16
}

// reply is the part of a received frame needed to judge a probe.
type reply struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
	Flags   uint8
}

// marshalFrame encodes s as an Ethernet II frame carrying an IPv4 packet
// with a TCP segment. SYN segments carry an MSS option.
func marshalFrame(s segment) ([]byte, error) {
	if !s.SrcIP.Is4() || !s.DstIP.Is4() {
		return nil, errBadAddresses
	}
	if len(s.SrcMAC) != 6 || len(s.DstMAC) != 6 {
		return nil, fmt.Errorf("probe: invalid hardware address length %d/%d", len(s.SrcMAC), len(s.DstMAC))
	}

	eth := &layers.Ethernet{
		SrcMAC:       s.SrcMAC,
		DstMAC:       s.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		Id:       s.IPID,
		Flags:    layers.IPv4DontFragment,
		TTL:      defaultTTL,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP(s.SrcIP.AsSlice()),
		DstIP:    net.IP(s.DstIP.AsSlice()),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.SrcPort),
		DstPort: layers.TCPPort(s.DstPort),
		Seq:     s.Seq,
		Ack:     s.Ack,
		Window:  windowSize,
	}
	setTCPFlags(tcp, s.Flags)
	if tcp.SYN {
		tcp.Options = []layers.TCPOption{{
			OptionType:   layers.TCPOptionKindMSS,
			OptionLength: 4,
			OptionData:   []byte{mssOptionValue >> 8, mssOptionValue & 0xff},
		}}
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("probe: tcp checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
		return nil, fmt.Errorf("probe: serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// frameDecoder decodes received frames without allocating per frame.
// It is not safe for concurrent use.
type frameDecoder struct {
	eth     layers.Ethernet
	ip      layers.IPv4
	tcp     layers.TCP
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newFrameDecoder() *frameDecoder {
	d := &frameDecoder{decoded: make([]gopacket.LayerType, 0, 4)}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &d.eth, &d.ip, &d.tcp)
	// ARP, UDP and TCP payloads stop decoding without being errors.
	d.parser.IgnoreUnsupported = true
	return d
}

// decode extracts the addressing and TCP flags of an Ethernet frame.
func (d *frameDecoder) decode(frame []byte) (reply, error) {
	if err := d.parser.DecodeLayers(frame, &d.decoded); err != nil {
		return reply{}, fmt.Errorf("probe: decode frame: %w", err)
	}

	var sawIPv4, sawTCP bool
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			sawIPv4 = true
		case layers.LayerTypeTCP:
			sawTCP = true
		}
	}
	if !sawIPv4 {
		return reply{}, errNotIPv4
	}
	if !sawTCP {
		return reply{}, errNotTCP
	}

	src, ok := netip.AddrFromSlice(d.ip.SrcIP.To4())
	if !ok {
		return reply{}, errBadAddresses
	}
	dst, ok := netip.AddrFromSlice(d.ip.DstIP.To4())
	if !ok {
		return reply{}, errBadAddresses
	}
	return reply{
		SrcIP:   src,
		DstIP:   dst,
		SrcPort: uint16(d.tcp.SrcPort),
		DstPort: uint16(d.tcp.DstPort),
		Flags:   tcpFlags(&d.tcp),
	}, nil
}

// parseReply decodes a single frame.
func parseReply(frame []byte) (reply, error) {
	return newFrameDecoder().decode(frame)
}

// answers reports whether r is a response to the probe s.
func (r reply) answers(s segment) bool {
	return r.SrcIP == s.DstIP &&
		r.SrcPort == s.DstPort &&
		r.DstPort == s.SrcPort
}

// isSYNACK reports whether both SYN and ACK are set.
func (r reply) isSYNACK() bool {
	return r.Flags&synAckMask == synAckMask
}

func setTCPFlags(t *layers.TCP, f uint8) {
	t.FIN = f&tcpFlagFIN != 0
	t.SYN = f&tcpFlagSYN != 0
	t.RST = f&tcpFlagRST != 0
	t.PSH = f&tcpFlagPSH != 0
	t.ACK = f&tcpFlagACK != 0
	t.URG = f&tcpFlagURG != 0
}

func tcpFlags(t *layers.TCP) uint8 {
	var f uint8
	for _, b := range []struct {
		set  bool
		flag uint8
	}{
		{t.FIN, tcpFlagFIN},
		{t.SYN, tcpFlagSYN},
		{t.RST, tcpFlagRST},
		{t.PSH, tcpFlagPSH},
		{t.ACK, tcpFlagACK},
		{t.URG, tcpFlagURG},
	} {
		if b.set {
			f |= b.flag
		}
	}
	return f
}
