// Package openflow models the slice of OpenFlow 1.3 the controller emits:
// flow-mods with a match and an apply-actions list, and packet-outs.
// Encoding and transport belong to the Channel implementation.
package openflow

import (
	"bytes"
	"fmt"
	"net"
	"strings"
)

// Reserved ports and buffer ids.
const (
	PortFlood      uint32 = 0xfffffffb
	PortController uint32 = 0xfffffffd

	NoBuffer                 uint32 = 0xffffffff
	ControllerMaxLenNoBuffer uint16 = 0xffff
)

// Header values used in matches.
const (
	EthTypeIPv4 uint16 = 0x0800
	EthTypeARP  uint16 = 0x0806
	EthTypeLLDP uint16 = 0x88cc

	IPProtoUDP uint8 = 17
)

// Output queues. Video rides the high-priority queue.
const (
	QueueHigh uint32 = 0
	QueueLow  uint32 = 1
)

// Flow priorities, highest wins.
const (
	PriorityCatchAll      uint16 = 0
	PriorityDefault       uint16 = 10
	PriorityVideoRedirect uint16 = 15
	PriorityVideo         uint16 = 20
	PriorityDeny          uint16 = 100
)

// Match selects packets. Zero-valued fields are wildcards.
type Match struct {
	InPort  uint32
	EthSrc  net.HardwareAddr
	EthDst  net.HardwareAddr
	EthType uint16
	IPProto uint8
	UDPSrc  uint16
	UDPDst  uint16
}

// Equal reports whether two matches select exactly the same fields.
func (m Match) Equal(o Match) bool {
	return m.InPort == o.InPort &&
		bytes.Equal(m.EthSrc, o.EthSrc) &&
		bytes.Equal(m.EthDst, o.EthDst) &&
		m.EthType == o.EthType &&
		m.IPProto == o.IPProto &&
		m.UDPSrc == o.UDPSrc &&
		m.UDPDst == o.UDPDst
}

// Covers reports whether every non-wildcard field of m agrees with the
// fully specified packet header p.
func (m Match) Covers(p Match) bool {
	switch {
	case m.InPort != 0 && m.InPort != p.InPort:
		return false
	case m.EthSrc != nil && !bytes.Equal(m.EthSrc, p.EthSrc):
		return false
	case m.EthDst != nil && !bytes.Equal(m.EthDst, p.EthDst):
		return false
	case m.EthType != 0 && m.EthType != p.EthType:
		return false
	case m.IPProto != 0 && m.IPProto != p.IPProto:
		return false
	case m.UDPSrc != 0 && m.UDPSrc != p.UDPSrc:
		return false
	case m.UDPDst != 0 && m.UDPDst != p.UDPDst:
		return false
	}
	return true
}

// String renders the match in ovs-ofctl syntax.
func (m Match) String() string {
	var parts []string
	if m.InPort != 0 {
		parts = append(parts, fmt.Sprintf("in_port=%d", m.InPort))
	}
	if m.EthSrc != nil {
		parts = append(parts, "dl_src="+m.EthSrc.String())
	}
	if m.EthDst != nil {
		parts = append(parts, "dl_dst="+m.EthDst.String())
	}
	if m.EthType != 0 {
		parts = append(parts, fmt.Sprintf("dl_type=0x%04x", m.EthType))
	}
	if m.IPProto != 0 {
		parts = append(parts, fmt.Sprintf("nw_proto=%d", m.IPProto))
	}
	if m.UDPSrc != 0 {
		parts = append(parts, fmt.Sprintf("tp_src=%d", m.UDPSrc))
	}
	if m.UDPDst != 0 {
		parts = append(parts, fmt.Sprintf("tp_dst=%d", m.UDPDst))
	}
	return strings.Join(parts, ",")
}

// ActionType enumerates the actions the controller uses.
type ActionType uint8

const (
	ActionOutput ActionType = iota
	ActionSetQueue
)

// Action is one entry of an apply-actions list.
type Action struct {
	Type    ActionType
	Port    uint32 // ActionOutput
	MaxLen  uint16 // ActionOutput to PortController
	QueueID uint32 // ActionSetQueue
}

// Output sends the packet out of port.
func Output(port uint32) Action {
	return Action{Type: ActionOutput, Port: port}
}

// Flood sends the packet out of every port except the ingress port.
func Flood() Action {
	return Action{Type: ActionOutput, Port: PortFlood}
}

// ToController punts the packet to the controller.
func ToController(maxLen uint16) Action {
	return Action{Type: ActionOutput, Port: PortController, MaxLen: maxLen}
}

// SetQueue selects the egress queue for subsequent outputs.
func SetQueue(id uint32) Action {
	return Action{Type: ActionSetQueue, QueueID: id}
}

func (a Action) String() string {
	switch a.Type {
	case ActionSetQueue:
		return fmt.Sprintf("set_queue:%d", a.QueueID)
	case ActionOutput:
		switch a.Port {
		case PortFlood:
			return "FLOOD"
		case PortController:
			return fmt.Sprintf("CONTROLLER:%d", a.MaxLen)
		default:
			return fmt.Sprintf("output:%d", a.Port)
		}
	}
	return fmt.Sprintf("unknown(%d)", a.Type)
}

// FormatActions renders an action list; an empty list is a drop.
func FormatActions(actions []Action) string {
	if len(actions) == 0 {
		return "drop"
	}
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

// OutputPorts returns the explicit output ports of an action list in order.
func OutputPorts(actions []Action) []uint32 {
	var ports []uint32
	for _, a := range actions {
		if a.Type == ActionOutput {
			ports = append(ports, a.Port)
		}
	}
	return ports
}

// QueueOf returns the queue selected by an action list, if any.
func QueueOf(actions []Action) (uint32, bool) {
	for _, a := range actions {
		if a.Type == ActionSetQueue {
			return a.QueueID, true
		}
	}
	return 0, false
}

// FlowMod installs a persistent rule. BufferID, when not NoBuffer, asks
// the switch to apply the new rule to the packet it is holding.
type FlowMod struct {
	Match    Match
	Priority uint16
	Actions  []Action
	BufferID uint32
}

// IsDrop reports whether the rule is a terminal drop.
func (f *FlowMod) IsDrop() bool {
	return len(f.Actions) == 0
}

// CommitsBuffer reports whether the flow-mod releases a buffered packet.
func (f *FlowMod) CommitsBuffer() bool {
	return f.BufferID != NoBuffer
}

func (f *FlowMod) String() string {
	s := fmt.Sprintf("priority=%d", f.Priority)
	if m := f.Match.String(); m != "" {
		s += "," + m
	}
	s += " actions=" + FormatActions(f.Actions)
	if f.CommitsBuffer() {
		s += fmt.Sprintf(" buffer_id=%d", f.BufferID)
	}
	return s
}

// PacketOut injects a packet into the datapath. Exactly one of BufferID
// (not NoBuffer) or Data carries the payload.
type PacketOut struct {
	InPort   uint32
	Actions  []Action
	BufferID uint32
	Data     []byte
}

func (p *PacketOut) String() string {
	s := fmt.Sprintf("in_port=%d actions=%s", p.InPort, FormatActions(p.Actions))
	if p.BufferID != NoBuffer {
		return s + fmt.Sprintf(" buffer_id=%d", p.BufferID)
	}
	return s + fmt.Sprintf(" data=%dB", len(p.Data))
}

// Channel is the switch control channel. Sends are fire-and-forget: a nil
// error means the message was handed off, not that the switch applied it.
type Channel interface {
	InstallFlow(dpid uint64, fm *FlowMod) error
	SendPacketOut(dpid uint64, po *PacketOut) error
}
