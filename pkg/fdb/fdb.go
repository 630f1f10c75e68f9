// Package fdb implements the per-switch MAC learning table.
//
// The table is sharded by datapath id. Each shard carries its own lock so
// packet-in processing on different switches never contends; the shard
// index itself is only written the first time a switch is seen.
package fdb

import (
	"net"
	"sort"
	"sync"
)

// Reader is the read side of the table handed to slice policies.
type Reader interface {
	Lookup(dpid uint64, mac net.HardwareAddr) (uint32, bool)
}

// Entry is one learned (switch, MAC, port) binding.
type Entry struct {
	DPID uint64
	MAC  string
	Port uint32
}

type shard struct {
	mu    sync.RWMutex
	ports map[string]uint32
}

// Table maps dpid -> MAC -> ingress port. Entries are never evicted.
type Table struct {
	mu     sync.RWMutex
	shards map[uint64]*shard
}

// New creates an empty table.
func New() *Table {
	return &Table{shards: make(map[uint64]*shard)}
}

func (t *Table) shard(dpid uint64, create bool) *shard {
	t.mu.RLock()
	s, ok := t.shards[dpid]
	t.mu.RUnlock()
	if ok || !create {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.shards[dpid]; !ok {
		s = &shard{ports: make(map[string]uint32)}
		t.shards[dpid] = s
	}
	return s
}

// Record binds mac to port on switch dpid, overwriting any previous binding.
// It reports whether the binding changed.
func (t *Table) Record(dpid uint64, mac net.HardwareAddr, port uint32) bool {
	s := t.shard(dpid, true)
	key := mac.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.ports[key]
	s.ports[key] = port
	return !ok || prev != port
}

// Lookup returns the port mac was last seen on at switch dpid.
func (t *Table) Lookup(dpid uint64, mac net.HardwareAddr) (uint32, bool) {
	s := t.shard(dpid, false)
	if s == nil {
		return 0, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	port, ok := s.ports[mac.String()]
	return port, ok
}

// Entries returns the bindings learned on switch dpid, sorted by MAC.
func (t *Table) Entries(dpid uint64) []Entry {
	s := t.shard(dpid, false)
	if s == nil {
		return nil
	}

	s.mu.RLock()
	out := make([]Entry, 0, len(s.ports))
	for mac, port := range s.ports {
		out = append(out, Entry{DPID: dpid, MAC: mac, Port: port})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// Snapshot returns every binding, ordered by dpid then MAC.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	dpids := make([]uint64, 0, len(t.shards))
	for dpid := range t.shards {
		dpids = append(dpids, dpid)
	}
	t.mu.RUnlock()
	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })

	var out []Entry
	for _, dpid := range dpids {
		out = append(out, t.Entries(dpid)...)
	}
	return out
}

// Len returns the number of bindings across all switches.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.ports)
		s.mu.RUnlock()
	}
	return n
}
