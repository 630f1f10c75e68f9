package openflow

import (
	"sort"
	"sync"
)

// Recorder is an in-memory Channel. It keeps one flow table per switch,
// with OVS replace semantics for identical (match, priority), and a log
// of packet-outs. Used by tests and by trace replay.
type Recorder struct {
	mu         sync.Mutex
	flows      map[uint64][]*FlowMod
	packetOuts map[uint64][]*PacketOut
	err        error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		flows:      make(map[uint64][]*FlowMod),
		packetOuts: make(map[uint64][]*PacketOut),
	}
}

// FailWith makes every subsequent send return err without recording.
// Pass nil to restore normal operation.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// InstallFlow implements Channel.
func (r *Recorder) InstallFlow(dpid uint64, fm *FlowMod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}

	cp := *fm
	cp.Actions = append([]Action(nil), fm.Actions...)

	table := r.flows[dpid]
	for i, existing := range table {
		if existing.Priority == cp.Priority && existing.Match.Equal(cp.Match) {
			table[i] = &cp
			return nil
		}
	}
	table = append(table, &cp)
	sort.SliceStable(table, func(i, j int) bool { return table[i].Priority > table[j].Priority })
	r.flows[dpid] = table
	return nil
}

// SendPacketOut implements Channel.
func (r *Recorder) SendPacketOut(dpid uint64, po *PacketOut) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}

	cp := *po
	cp.Actions = append([]Action(nil), po.Actions...)
	r.packetOuts[dpid] = append(r.packetOuts[dpid], &cp)
	return nil
}

// Flows returns the flow table of dpid, highest priority first.
func (r *Recorder) Flows(dpid uint64) []FlowMod {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FlowMod, len(r.flows[dpid]))
	for i, fm := range r.flows[dpid] {
		out[i] = *fm
	}
	return out
}

// PacketOuts returns the packet-outs sent to dpid in order.
func (r *Recorder) PacketOuts(dpid uint64) []PacketOut {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PacketOut, len(r.packetOuts[dpid]))
	for i, po := range r.packetOuts[dpid] {
		out[i] = *po
	}
	return out
}

// Switches returns every dpid that received a message, sorted.
func (r *Recorder) Switches() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uint64]bool)
	for dpid := range r.flows {
		seen[dpid] = true
	}
	for dpid := range r.packetOuts {
		seen[dpid] = true
	}
	out := make([]uint64, 0, len(seen))
	for dpid := range seen {
		out = append(out, dpid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Effective returns the rule the switch would apply to packet header pkt:
// the highest-priority covering rule, earliest installed on ties.
func (r *Recorder) Effective(dpid uint64, pkt Match) (FlowMod, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fm := range r.flows[dpid] {
		if fm.Match.Covers(pkt) {
			return *fm, true
		}
	}
	return FlowMod{}, false
}
