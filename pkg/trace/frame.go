package trace

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/newtron-network/newtslice/pkg/topology"
)

// FrameKind selects the shape of a synthesized frame.
type FrameKind string

const (
	FrameUDP  FrameKind = "udp"
	FrameARP  FrameKind = "arp"
	FrameICMP FrameKind = "icmp"
	FrameLLDP FrameKind = "lldp"
	FrameRaw  FrameKind = "raw"
)

var (
	broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	lldpMAC      = net.HardwareAddr{0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e}
	unknownIP    = net.IPv4(10, 0, 0, 254).To4()
	broadcastIP  = net.IPv4(10, 0, 0, 255).To4()
)

// FrameSpec describes a frame by host label rather than raw bytes.
// Src and Dst accept a host label from the topology, a MAC address, or
// "broadcast".
type FrameSpec struct {
	Kind   FrameKind `yaml:"kind"`
	Src    string    `yaml:"src,omitempty"`
	Dst    string    `yaml:"dst,omitempty"`
	UDPSrc uint16    `yaml:"udp_src,omitempty"`
	UDPDst uint16    `yaml:"udp_dst,omitempty"`
	Size   int       `yaml:"size,omitempty"` // total frame length; payload is padded to reach it
	Raw    string    `yaml:"raw,omitempty"`  // hex, FrameRaw only
}

// Build serializes the frame. Hosts are resolved against topo.
func (f *FrameSpec) Build(topo *topology.Map) ([]byte, error) {
	if f.Kind == FrameRaw {
		data, err := hex.DecodeString(strings.ReplaceAll(f.Raw, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("raw frame: %w", err)
		}
		return data, nil
	}

	srcMAC, srcIP, err := resolveEndpoint(topo, f.Src)
	if err != nil {
		return nil, fmt.Errorf("src: %w", err)
	}
	dstMAC, dstIP, err := resolveEndpoint(topo, f.Dst)
	if err != nil {
		return nil, fmt.Errorf("dst: %w", err)
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}
	var stack []gopacket.SerializableLayer

	switch f.Kind {
	case FrameARP:
		eth.EthernetType = layers.EthernetTypeARP
		stack = append(stack, eth, &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   srcMAC,
			SourceProtAddress: srcIP,
			DstHwAddress:      make([]byte, 6),
			DstProtAddress:    dstIP,
		})
	case FrameUDP:
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: srcIP, DstIP: dstIP}
		udp := &layers.UDP{SrcPort: layers.UDPPort(f.UDPSrc), DstPort: layers.UDPPort(f.UDPDst)}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		stack = append(stack, eth, ip, udp, gopacket.Payload(padding(f.Size, 14+20+8)))
	case FrameICMP:
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: srcIP, DstIP: dstIP}
		icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}
		stack = append(stack, eth, ip, icmp, gopacket.Payload(padding(f.Size, 14+20+8)))
	case FrameLLDP:
		eth.DstMAC = lldpMAC
		eth.EthernetType = layers.EthernetTypeLinkLayerDiscovery
		stack = append(stack, eth, gopacket.Payload(padding(f.Size, 14)))
	default:
		return nil, fmt.Errorf("unknown frame kind %q", f.Kind)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, fmt.Errorf("serializing %s frame: %w", f.Kind, err)
	}
	return buf.Bytes(), nil
}

func resolveEndpoint(topo *topology.Map, ref string) (net.HardwareAddr, net.IP, error) {
	switch ref {
	case "":
		return nil, nil, fmt.Errorf("endpoint is required")
	case "broadcast":
		return broadcastMAC, broadcastIP, nil
	}
	if topo != nil {
		if h, ok := topo.Host(ref); ok {
			ip, err := hostIPv4(h)
			return h.MAC, ip, err
		}
	}
	mac, err := net.ParseMAC(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("%q is neither a known host nor a MAC address", ref)
	}
	if topo != nil {
		if h, ok := topo.HostByMAC(mac); ok {
			ip, err := hostIPv4(h)
			return mac, ip, err
		}
	}
	return mac, unknownIP, nil
}

func hostIPv4(h *topology.Host) (net.IP, error) {
	if h.IP == nil {
		return unknownIP, nil
	}
	ip := h.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("host %s: ip %s is not IPv4", h.Name, h.IP)
	}
	return ip, nil
}

func padding(size, headers int) []byte {
	if size <= headers {
		return nil
	}
	return make([]byte, size-headers)
}
