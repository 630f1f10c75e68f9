// Package topology holds the static switch and host layout the slice
// policies are evaluated against.
package topology

import (
	"net"

	"github.com/scylladb/go-set/strset"
)

// Role is the position of a switch in the fabric.
type Role string

const (
	RoleAccess   Role = "access"
	RoleBackbone Role = "backbone"
)

// Slice names one of the two parallel backbone paths.
type Slice string

const (
	SliceNone  Slice = ""
	SliceUpper Slice = "upper"
	SliceLower Slice = "lower"
)

// File is the on-disk (YAML) form of a topology.
type File struct {
	Name     string                `yaml:"name"`
	Switches map[string]SwitchSpec `yaml:"switches"`
	Hosts    map[string]HostSpec   `yaml:"hosts"`
	Allow    [][]string            `yaml:"allow,omitempty"`
}

// SwitchSpec describes one switch in a topology file.
type SwitchSpec struct {
	DPID          uint64 `yaml:"dpid"`
	Role          Role   `yaml:"role"`
	Slice         Slice  `yaml:"slice,omitempty"`
	HostPorts     string `yaml:"host_ports,omitempty"` // range notation, e.g. "1-2"
	PrimaryPort   uint32 `yaml:"primary_port,omitempty"`
	SecondaryPort uint32 `yaml:"secondary_port,omitempty"`
}

// HostSpec describes one host in a topology file.
type HostSpec struct {
	MAC   string `yaml:"mac"`
	IP    string `yaml:"ip"`
	Slice Slice  `yaml:"slice,omitempty"`
}

// Switch is a resolved switch. Access switches carry their host-facing
// ports and the two backbone uplinks; backbone switches carry the slice
// they implement.
type Switch struct {
	Name          string
	DPID          uint64
	Role          Role
	Slice         Slice
	HostPorts     []uint32
	PrimaryPort   uint32
	SecondaryPort uint32
}

// IsAccess reports whether the switch has hosts attached.
func (s *Switch) IsAccess() bool {
	return s.Role == RoleAccess
}

// IsHostPort reports whether port faces a host on this switch.
func (s *Switch) IsHostPort(port uint32) bool {
	for _, p := range s.HostPorts {
		if p == port {
			return true
		}
	}
	return false
}

// Host is a resolved end host.
type Host struct {
	Name  string
	MAC   net.HardwareAddr
	IP    net.IP
	Slice Slice
}

// Map is the immutable, validated topology. All methods are safe for
// concurrent use.
type Map struct {
	name     string
	switches map[uint64]*Switch
	hosts    map[string]*Host // by label
	byMAC    map[string]*Host // by MAC string
	allowed  *strset.Set      // "srcMAC|dstMAC"
}
