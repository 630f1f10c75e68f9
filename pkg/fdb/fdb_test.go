package fdb

import (
	"net"
	"sync"
	"testing"
)

func mac(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	m, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", s, err)
	}
	return m
}

func TestLookup_NotFound(t *testing.T) {
	tbl := New()
	if _, ok := tbl.Lookup(1, mac(t, "00:00:00:00:00:01")); ok {
		t.Error("Lookup on empty table should miss")
	}

	tbl.Record(1, mac(t, "00:00:00:00:00:01"), 1)
	if _, ok := tbl.Lookup(2, mac(t, "00:00:00:00:00:01")); ok {
		t.Error("entries must not leak across switches")
	}
	if _, ok := tbl.Lookup(1, mac(t, "00:00:00:00:00:02")); ok {
		t.Error("Lookup of unlearned MAC should miss")
	}
}

func TestRecord_LastWriteWins(t *testing.T) {
	tbl := New()
	src := mac(t, "00:00:00:00:00:01")

	ports := []uint32{1, 3, 4, 3, 2}
	for i, p := range ports {
		changed := tbl.Record(4, src, p)
		if i == 0 && !changed {
			t.Error("first Record should report a change")
		}
		got, ok := tbl.Lookup(4, src)
		if !ok || got != p {
			t.Fatalf("after Record(%d) Lookup = %d, %v", p, got, ok)
		}
	}

	if tbl.Record(4, src, 2) {
		t.Error("re-recording the same port should not report a change")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
}

func TestRecord_MACFormatting(t *testing.T) {
	tbl := New()
	tbl.Record(1, mac(t, "AA:BB:CC:DD:EE:FF"), 7)

	port, ok := tbl.Lookup(1, mac(t, "aa-bb-cc-dd-ee-ff"))
	if !ok || port != 7 {
		t.Errorf("Lookup with alternate MAC notation = %d, %v", port, ok)
	}
}

func TestSnapshot(t *testing.T) {
	tbl := New()
	tbl.Record(4, mac(t, "00:00:00:00:00:03"), 1)
	tbl.Record(1, mac(t, "00:00:00:00:00:02"), 2)
	tbl.Record(1, mac(t, "00:00:00:00:00:01"), 1)

	got := tbl.Snapshot()
	want := []Entry{
		{DPID: 1, MAC: "00:00:00:00:00:01", Port: 1},
		{DPID: 1, MAC: "00:00:00:00:00:02", Port: 2},
		{DPID: 4, MAC: "00:00:00:00:00:03", Port: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if entries := tbl.Entries(9); entries != nil {
		t.Errorf("Entries(unknown) = %v, want nil", entries)
	}
}

func TestConcurrentSwitches(t *testing.T) {
	tbl := New()
	src := mac(t, "00:00:00:00:00:01")

	var wg sync.WaitGroup
	for dpid := uint64(1); dpid <= 4; dpid++ {
		wg.Add(1)
		go func(dpid uint64) {
			defer wg.Done()
			for p := uint32(1); p <= 100; p++ {
				tbl.Record(dpid, src, p)
				tbl.Lookup(dpid, src)
			}
		}(dpid)
	}
	wg.Wait()

	for dpid := uint64(1); dpid <= 4; dpid++ {
		if port, ok := tbl.Lookup(dpid, src); !ok || port != 100 {
			t.Errorf("switch %d: Lookup = %d, %v, want 100", dpid, port, ok)
		}
	}
}
