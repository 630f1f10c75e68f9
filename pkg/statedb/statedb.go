// Package statedb mirrors controller state into Redis using SONiC-style
// "TABLE|key" hashes, so external tools can inspect what the controller
// has learned.
package statedb

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/newtslice/pkg/adaptive"
	"github.com/newtron-network/newtslice/pkg/util"
)

// Table names.
const (
	FDBTable     = "FDB_TABLE"
	MonitorTable = "SLICE_MONITOR"
	MonitorKey   = "video"
)

// DefaultDB is the Redis database index used for published state.
const DefaultDB = 6

// Publisher receives state changes from the controller. Implementations
// must not block the caller.
type Publisher interface {
	PublishFDB(dpid uint64, mac net.HardwareAddr, port uint32)
	PublishSample(s adaptive.Sample)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishFDB(uint64, net.HardwareAddr, uint32) {}
func (Nop) PublishSample(adaptive.Sample)               {}
func (Nop) ObserveSample(adaptive.Sample)               {}
func (Nop) Close() error                                { return nil }

// FDBKey returns the hash key of a learned address.
func FDBKey(dpid uint64, mac net.HardwareAddr) string {
	return fmt.Sprintf("%s|s%d|%s", FDBTable, dpid, mac)
}

// MonitorHashKey returns the hash key of the traffic monitor state.
func MonitorHashKey() string {
	return MonitorTable + "|" + MonitorKey
}

// FDBEntry is a learned address read back from Redis.
type FDBEntry struct {
	MAC  string
	Port uint32
}

// MonitorEntry is the last published monitor sample.
type MonitorEntry struct {
	VideoMbps              float64
	AllowNonVideoOnPrimary bool
	Timestamp              time.Time
}

type update struct {
	key    string
	fields map[string]interface{}
}

// writer applies a batch of hash updates.
type writer interface {
	write(ctx context.Context, batch []update) error
}

// Client publishes state to Redis. Updates are queued and written by a
// background goroutine in pipelined batches; when the queue is full new
// updates are dropped rather than stalling the packet path.
type Client struct {
	client *redis.Client
	ctx    context.Context
	w      writer

	mu      sync.RWMutex
	closed  bool
	queue   chan update
	done    chan struct{}
	dropped atomic.Uint64
}

// NewClient creates a publisher for the Redis server at addr.
func NewClient(addr string, db int) *Client {
	rc := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	c := newClient(&pipelineWriter{client: rc}, 1024)
	c.client = rc
	return c
}

func newClient(w writer, depth int) *Client {
	c := &Client{
		ctx:   context.Background(),
		w:     w,
		queue: make(chan update, depth),
		done:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Connect verifies the server is reachable.
func (c *Client) Connect() error {
	ctx, cancel := context.WithTimeout(c.ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis %s: %w", c.client.Options().Addr, err)
	}
	return nil
}

// Close flushes queued updates and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	first := !c.closed
	if first {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()
	<-c.done

	if first && c.client != nil {
		return c.client.Close()
	}
	return nil
}

// PublishFDB queues a learned address.
func (c *Client) PublishFDB(dpid uint64, mac net.HardwareAddr, port uint32) {
	c.enqueue(update{
		key:    FDBKey(dpid, mac),
		fields: map[string]interface{}{"port": strconv.FormatUint(uint64(port), 10)},
	})
}

// PublishSample queues a monitor sample.
func (c *Client) PublishSample(s adaptive.Sample) {
	c.enqueue(update{
		key: MonitorHashKey(),
		fields: map[string]interface{}{
			"mbps":                  strconv.FormatFloat(s.VideoMbps, 'f', 3, 64),
			"allow_non_video_upper": strconv.FormatBool(s.AllowNonVideoOnPrimary),
			"timestamp":             s.Time.UTC().Format(time.RFC3339Nano),
		},
	})
}

// ObserveSample lets the client be registered as a monitor sink.
func (c *Client) ObserveSample(s adaptive.Sample) {
	c.PublishSample(s)
}

// Dropped returns the number of updates discarded because the queue was full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Client) enqueue(u update) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- u:
	default:
		c.dropped.Add(1)
		util.WithField("key", u.key).Debug("statedb: queue full, update dropped")
	}
}

func (c *Client) run() {
	defer close(c.done)
	for u := range c.queue {
		batch := []update{u}
	drain:
		for len(batch) < cap(c.queue) {
			select {
			case next, ok := <-c.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := c.w.write(c.ctx, batch); err != nil {
			util.Warnf("statedb: writing %d updates: %v", len(batch), err)
		}
	}
}

// GetFDB reads back every address published for dpid.
func (c *Client) GetFDB(dpid uint64) ([]FDBEntry, error) {
	prefix := fmt.Sprintf("%s|s%d|", FDBTable, dpid)
	keys, err := c.client.Keys(c.ctx, prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", FDBTable, err)
	}

	var entries []FDBEntry
	for _, key := range keys {
		port, err := c.client.HGet(c.ctx, key, "port").Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		p, err := strconv.ParseUint(port, 10, 32)
		if err != nil {
			util.Warnf("statedb: %s has invalid port %q", key, port)
			continue
		}
		entries = append(entries, FDBEntry{MAC: key[len(prefix):], Port: uint32(p)})
	}
	return entries, nil
}

// GetMonitor reads back the last published monitor sample.
func (c *Client) GetMonitor() (*MonitorEntry, error) {
	vals, err := c.client.HGetAll(c.ctx, MonitorHashKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", MonitorHashKey(), err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: %w", MonitorHashKey(), util.ErrNotFound)
	}

	entry := &MonitorEntry{}
	entry.VideoMbps, _ = strconv.ParseFloat(vals["mbps"], 64)
	entry.AllowNonVideoOnPrimary, _ = strconv.ParseBool(vals["allow_non_video_upper"])
	entry.Timestamp, _ = time.Parse(time.RFC3339Nano, vals["timestamp"])
	return entry, nil
}

type pipelineWriter struct {
	client *redis.Client
}

func (p *pipelineWriter) write(ctx context.Context, batch []update) error {
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range batch {
			pipe.HSet(ctx, u.key, u.fields)
		}
		return nil
	})
	return err
}
