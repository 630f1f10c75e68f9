// Package classifier decodes packet-in frames into a PacketContext and
// assigns each one a traffic class.
package classifier

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/newtron-network/newtslice/pkg/openflow"
)

// VideoPort is the UDP port that marks a flow as video.
const VideoPort uint16 = 9999

// Class is the traffic class of a frame.
type Class uint8

const (
	ClassUnparseable Class = iota
	ClassDefault
	ClassVideo
	ClassARP
	ClassLLDP
)

func (c Class) String() string {
	switch c {
	case ClassDefault:
		return "default"
	case ClassVideo:
		return "video"
	case ClassARP:
		return "arp"
	case ClassLLDP:
		return "lldp"
	default:
		return "unparseable"
	}
}

// Context is everything the policies need to know about one packet-in.
// It is built fresh per event and never retained.
type Context struct {
	DPID     uint64
	InPort   uint32
	BufferID uint32

	Src     net.HardwareAddr
	Dst     net.HardwareAddr
	EthType uint16
	IPProto uint8 // zero unless IPv4
	HasUDP  bool
	UDPSrc  uint16
	UDPDst  uint16

	Class  Class
	Length int
	Data   []byte
}

// IsVideo reports whether the frame belongs to the video class.
func (c *Context) IsVideo() bool {
	return c.Class == ClassVideo
}

// Buffered reports whether the switch is holding the frame.
func (c *Context) Buffered() bool {
	return c.BufferID != openflow.NoBuffer
}

// Header returns the frame's header fields as a fully specified match,
// suitable for openflow.Match.Covers.
func (c *Context) Header() openflow.Match {
	return openflow.Match{
		InPort:  c.InPort,
		EthSrc:  c.Src,
		EthDst:  c.Dst,
		EthType: c.EthType,
		IPProto: c.IPProto,
		UDPSrc:  c.UDPSrc,
		UDPDst:  c.UDPDst,
	}
}

// Classify decodes data as received on (dpid, inPort). A frame whose
// Ethernet header does not decode yields ClassUnparseable and no other
// fields beyond the ingress identity and length. Decoding problems past
// the Ethernet header only demote the frame to ClassDefault.
func Classify(dpid uint64, inPort, bufferID uint32, data []byte) *Context {
	ctx := &Context{
		DPID:     dpid,
		InPort:   inPort,
		BufferID: bufferID,
		Length:   len(data),
		Data:     data,
		Class:    ClassUnparseable,
	}

	var (
		eth     layers.Ethernet
		arp     layers.ARP
		ip4     layers.IPv4
		udp     layers.UDP
		payload gopacket.Payload
	)
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &arp, &ip4, &udp, &payload)
	parser.IgnoreUnsupported = true

	decoded := make([]gopacket.LayerType, 0, 4)
	_ = parser.DecodeLayers(data, &decoded)

	seen := func(lt gopacket.LayerType) bool {
		for _, d := range decoded {
			if d == lt {
				return true
			}
		}
		return false
	}

	if !seen(layers.LayerTypeEthernet) {
		return ctx
	}

	ctx.Src = append(net.HardwareAddr(nil), eth.SrcMAC...)
	ctx.Dst = append(net.HardwareAddr(nil), eth.DstMAC...)
	ctx.EthType = uint16(eth.EthernetType)

	switch eth.EthernetType {
	case layers.EthernetTypeLinkLayerDiscovery:
		ctx.Class = ClassLLDP
		return ctx
	case layers.EthernetTypeARP:
		ctx.Class = ClassARP
		return ctx
	}

	ctx.Class = ClassDefault
	if !seen(layers.LayerTypeIPv4) {
		return ctx
	}
	ctx.IPProto = uint8(ip4.Protocol)

	if seen(layers.LayerTypeUDP) {
		ctx.HasUDP = true
		ctx.UDPSrc = uint16(udp.SrcPort)
		ctx.UDPDst = uint16(udp.DstPort)
		if ctx.UDPSrc == VideoPort || ctx.UDPDst == VideoPort {
			ctx.Class = ClassVideo
		}
	}
	return ctx
}
