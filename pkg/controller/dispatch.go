package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/newtron-network/newtslice/pkg/util"
)

// EventKind tags an Event.
type EventKind string

const (
	EventConnect  EventKind = "connect"
	EventPacketIn EventKind = "packet_in"
)

// Event is one message from a switch. PacketIn is set for EventPacketIn.
type Event struct {
	Kind     EventKind
	DPID     uint64
	PacketIn *PacketIn
}

// handlers is the dispatch table.
var handlers = map[EventKind]func(*Controller, Event){
	EventConnect: func(c *Controller, ev Event) {
		c.HandleConnect(ev.DPID)
	},
	EventPacketIn: func(c *Controller, ev Event) {
		if ev.PacketIn == nil {
			util.WithSwitch(ev.DPID).Warn("packet_in event without payload")
			return
		}
		pi := *ev.PacketIn
		pi.DPID = ev.DPID
		c.HandlePacketIn(pi)
	},
}

// Dispatch runs ev synchronously on the caller's goroutine.
func (c *Controller) Dispatch(ev Event) error {
	h, ok := handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
	h(c, ev)
	return nil
}

// dispatcher fans events out to one worker goroutine per switch, so events
// from a switch are handled in arrival order while switches proceed in
// parallel.
type dispatcher struct {
	owner *Controller
	depth int

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	workers map[uint64]chan Event
	wg      sync.WaitGroup
}

func newDispatcher(owner *Controller, depth int) *dispatcher {
	return &dispatcher{owner: owner, depth: depth}
}

// Start enables Submit. Cancelling ctx makes blocked Submits give up;
// queued events are still handled until Stop.
func (d *dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.workers = make(map[uint64]chan Event)
	d.running = true
}

// Stop rejects further events, lets every worker finish its queue and
// waits for them.
func (d *dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	for _, ch := range d.workers {
		close(ch)
	}
	d.workers = nil
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
}

// Submit queues ev on its switch's worker. It blocks while that queue is
// full and fails with util.ErrNotRunning when the controller is stopped.
func (d *dispatcher) Submit(ev Event) error {
	if _, ok := handlers[ev.Kind]; !ok {
		return fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
	if err := d.ensureWorker(ev.DPID); err != nil {
		return err
	}

	// The read lock keeps Stop from closing the queue during the send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return util.ErrNotRunning
	}
	select {
	case d.workers[ev.DPID] <- ev:
		return nil
	case <-d.ctx.Done():
		return util.ErrNotRunning
	}
}

func (d *dispatcher) ensureWorker(dpid uint64) error {
	d.mu.RLock()
	running := d.running
	_, ok := d.workers[dpid]
	d.mu.RUnlock()
	if !running {
		return util.ErrNotRunning
	}
	if ok {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return util.ErrNotRunning
	}
	if _, ok := d.workers[dpid]; !ok {
		ch := make(chan Event, d.depth)
		d.workers[dpid] = ch
		d.wg.Add(1)
		go d.work(dpid, ch)
	}
	return nil
}

func (d *dispatcher) work(dpid uint64, ch <-chan Event) {
	defer d.wg.Done()
	util.WithSwitch(dpid).Debug("worker started")
	for ev := range ch {
		if err := d.owner.Dispatch(ev); err != nil {
			util.WithSwitch(dpid).Warnf("dispatch: %v", err)
		}
	}
}
