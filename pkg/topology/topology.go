package topology

import (
	_ "embed"
	"fmt"
	"net"
	"os"
	"sort"

	"github.com/scylladb/go-set/strset"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtslice/pkg/util"
)

//go:embed default.yaml
var defaultYAML []byte

// Default returns the built-in four-switch reference topology.
func Default() *Map {
	m, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in topology is invalid: %v", err))
	}
	return m
}

// Load reads and validates a topology YAML file.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates topology YAML.
func Parse(data []byte) (*Map, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing topology YAML: %w", err)
	}
	return Build(&f)
}

// Build resolves a topology file into a Map. Every problem found is
// reported in a single ValidationError.
func Build(f *File) (*Map, error) {
	v := &util.ValidationBuilder{}

	m := &Map{
		name:     f.Name,
		switches: make(map[uint64]*Switch),
		hosts:    make(map[string]*Host),
		byMAC:    make(map[string]*Host),
		allowed:  strset.New(),
	}

	v.Add(len(f.Switches) > 0, "at least one switch is required")

	backbones := map[Slice]string{}
	for _, name := range sortedKeys(f.Switches) {
		spec := f.Switches[name]
		sw := &Switch{
			Name:          name,
			DPID:          spec.DPID,
			Role:          spec.Role,
			Slice:         spec.Slice,
			PrimaryPort:   spec.PrimaryPort,
			SecondaryPort: spec.SecondaryPort,
		}

		if spec.DPID == 0 {
			v.AddErrorf("switch %s: dpid is required", name)
		} else if other, ok := m.switches[spec.DPID]; ok {
			v.AddErrorf("switch %s: dpid %d already used by %s", name, spec.DPID, other.Name)
		}

		switch spec.Role {
		case RoleAccess:
			ports, err := util.ParsePortList(spec.HostPorts)
			if err != nil {
				v.AddErrorf("switch %s: host_ports: %v", name, err)
			}
			sw.HostPorts = ports
			v.Add(len(ports) > 0 || err != nil, fmt.Sprintf("switch %s: access switch needs host_ports", name))
			v.Add(spec.PrimaryPort != 0, fmt.Sprintf("switch %s: primary_port is required", name))
			v.Add(spec.SecondaryPort != 0, fmt.Sprintf("switch %s: secondary_port is required", name))
			if spec.PrimaryPort != 0 && spec.PrimaryPort == spec.SecondaryPort {
				v.AddErrorf("switch %s: primary_port and secondary_port must differ", name)
			}
			if sw.IsHostPort(spec.PrimaryPort) || sw.IsHostPort(spec.SecondaryPort) {
				v.AddErrorf("switch %s: backbone ports overlap host_ports", name)
			}
			v.Add(spec.Slice == SliceNone, fmt.Sprintf("switch %s: access switches do not carry a slice", name))
		case RoleBackbone:
			v.Add(spec.HostPorts == "", fmt.Sprintf("switch %s: backbone switches have no host_ports", name))
			if spec.Slice != SliceNone {
				if !validSlice(spec.Slice) {
					v.AddErrorf("switch %s: slice must be 'upper' or 'lower', got %q", name, spec.Slice)
				} else if other, ok := backbones[spec.Slice]; ok {
					v.AddErrorf("switch %s: slice %s already served by %s", name, spec.Slice, other)
				} else {
					backbones[spec.Slice] = name
				}
			}
		default:
			v.AddErrorf("switch %s: role must be 'access' or 'backbone', got %q", name, spec.Role)
		}

		if spec.DPID != 0 {
			if _, dup := m.switches[spec.DPID]; !dup {
				m.switches[spec.DPID] = sw
			}
		}
	}

	for _, name := range sortedKeys(f.Hosts) {
		spec := f.Hosts[name]
		h := &Host{Name: name, Slice: spec.Slice}

		mac, err := net.ParseMAC(spec.MAC)
		if err != nil {
			v.AddErrorf("host %s: invalid mac %q", name, spec.MAC)
		} else {
			h.MAC = mac
			if other, ok := m.byMAC[mac.String()]; ok {
				v.AddErrorf("host %s: mac %s already used by %s", name, mac, other.Name)
			} else {
				m.byMAC[mac.String()] = h
			}
		}

		if spec.IP != "" {
			switch h.IP = net.ParseIP(spec.IP); {
			case h.IP == nil:
				v.AddErrorf("host %s: invalid ip %q", name, spec.IP)
			case h.IP.To4() == nil:
				v.AddErrorf("host %s: ip %q is not IPv4", name, spec.IP)
			default:
				h.IP = h.IP.To4()
			}
		}

		if spec.Slice != SliceNone {
			if !validSlice(spec.Slice) {
				v.AddErrorf("host %s: slice must be 'upper' or 'lower', got %q", name, spec.Slice)
			} else if _, ok := backbones[spec.Slice]; !ok {
				v.AddErrorf("host %s: no backbone switch serves slice %s", name, spec.Slice)
			}
		}

		m.hosts[name] = h
	}

	for i, pair := range f.Allow {
		if len(pair) != 2 {
			v.AddErrorf("allow %d: must name exactly 2 hosts", i)
			continue
		}
		a, okA := m.hosts[pair[0]]
		b, okB := m.hosts[pair[1]]
		if !okA || !okB {
			v.AddErrorf("allow %d: references unknown host in %v", i, pair)
			continue
		}
		if a.MAC == nil || b.MAC == nil {
			continue
		}
		m.allowed.Add(pairKey(a.MAC, b.MAC), pairKey(b.MAC, a.MAC))
	}

	if err := v.Build(); err != nil {
		return nil, err
	}
	return m, nil
}

// Name returns the topology name.
func (m *Map) Name() string { return m.name }

// Switch returns the switch with the given dpid.
func (m *Map) Switch(dpid uint64) (*Switch, bool) {
	sw, ok := m.switches[dpid]
	return sw, ok
}

// Switches returns all switches ordered by dpid.
func (m *Map) Switches() []*Switch {
	out := make([]*Switch, 0, len(m.switches))
	for _, sw := range m.switches {
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DPID < out[j].DPID })
	return out
}

// Host returns the host with the given label (h1..h4).
func (m *Map) Host(name string) (*Host, bool) {
	h, ok := m.hosts[name]
	return h, ok
}

// Hosts returns all hosts ordered by label.
func (m *Map) Hosts() []*Host {
	out := make([]*Host, 0, len(m.hosts))
	for _, name := range sortedKeys(m.hosts) {
		out = append(out, m.hosts[name])
	}
	return out
}

// HostByMAC returns the configured host owning mac.
func (m *Map) HostByMAC(mac net.HardwareAddr) (*Host, bool) {
	h, ok := m.byMAC[mac.String()]
	return h, ok
}

// IsAccess reports whether dpid is a known access switch.
func (m *Map) IsAccess(dpid uint64) bool {
	sw, ok := m.switches[dpid]
	return ok && sw.IsAccess()
}

// IsHostPort reports whether port on switch dpid faces a host.
func (m *Map) IsHostPort(dpid uint64, port uint32) bool {
	sw, ok := m.switches[dpid]
	return ok && sw.IsHostPort(port)
}

// BackboneFor returns the backbone switch implementing slice.
func (m *Map) BackboneFor(slice Slice) (*Switch, bool) {
	for _, sw := range m.Switches() {
		if sw.Role == RoleBackbone && sw.Slice == slice && slice != SliceNone {
			return sw, true
		}
	}
	return nil, false
}

// Allowed reports whether traffic from src to dst is on the allow-list.
func (m *Map) Allowed(src, dst net.HardwareAddr) bool {
	return m.allowed.Has(pairKey(src, dst))
}

// AllowedPairs returns the allow-list as host label pairs, one entry per
// direction, sorted.
func (m *Map) AllowedPairs() [][2]string {
	var out [][2]string
	for _, a := range m.Hosts() {
		for _, b := range m.Hosts() {
			if a.MAC != nil && b.MAC != nil && m.Allowed(a.MAC, b.MAC) {
				out = append(out, [2]string{a.Name, b.Name})
			}
		}
	}
	return out
}

// ViolatesSlice reports whether traffic sourced by src must not appear on
// switch dpid: the source host is bound to one slice and dpid is the
// backbone switch of the other. Unknown hosts and non-backbone switches
// never violate.
func (m *Map) ViolatesSlice(src net.HardwareAddr, dpid uint64) bool {
	h, ok := m.byMAC[src.String()]
	if !ok || h.Slice == SliceNone {
		return false
	}
	sw, ok := m.switches[dpid]
	if !ok || sw.Role != RoleBackbone || sw.Slice == SliceNone {
		return false
	}
	return h.Slice != sw.Slice
}

func pairKey(src, dst net.HardwareAddr) string {
	return src.String() + "|" + dst.String()
}

func validSlice(s Slice) bool {
	return s == SliceUpper || s == SliceLower
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
