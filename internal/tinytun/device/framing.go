package device

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// HeaderSize - two reserved bytes and the EtherType in front of every frame on a TAP file
const HeaderSize = 4

// ethernetHeaderSize - destination, source and EtherType
const ethernetHeaderSize = 14

// Encapsulate - frame with the local packet header prepended
func Encapsulate(frame []byte) []byte {
	buf := make([]byte, HeaderSize+len(frame))
	if len(frame) >= ethernetHeaderSize {
		buf[2], buf[3] = frame[12], frame[13]
	}
	copy(buf[HeaderSize:], frame)
	return buf
}

// Decapsulate - the Ethernet frame inside buf, false when buf is too short to hold one
func Decapsulate(buf []byte) ([]byte, bool) {
	if len(buf) <= HeaderSize+ethernetHeaderSize {
		return nil, false
	}
	return buf[HeaderSize:], true
}

// Describe - one line summary of a frame for trace logs
func Describe(frame []byte) string {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Lazy)
	eth, ok := packet.LinkLayer().(*layers.Ethernet)
	if !ok {
		return fmt.Sprintf("%d bytes, not ethernet", len(frame))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s > %s %s", eth.SrcMAC, eth.DstMAC, eth.EthernetType)
	switch n := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		fmt.Fprintf(&b, " %s > %s %s", n.SrcIP, n.DstIP, n.Protocol)
	case *layers.IPv6:
		fmt.Fprintf(&b, " %s > %s %s", n.SrcIP, n.DstIP, n.NextHeader)
	}
	if arp, ok := packet.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		fmt.Fprintf(&b, " who-has %s tell %s", net.IP(arp.DstProtAddress), net.IP(arp.SourceProtAddress))
	}
	fmt.Fprintf(&b, " len %d", len(frame))
	return b.String()
}
