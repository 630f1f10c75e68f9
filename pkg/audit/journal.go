package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/newtron-network/newtslice/pkg/util"
)

// Logger is what the controller needs from an audit backend.
type Logger interface {
	Log(event *Event) error
}

// Retention bounds the journal by enforcement events rather than bytes.
// Once the live file holds MaxEvents drops it becomes <path>.1, older
// generations shift to .2, .3 and so on, and anything past Generations
// is removed. Zero MaxEvents keeps a single unbounded file.
type Retention struct {
	MaxEvents   int
	Generations int
}

var errJournalClosed = errors.New("audit journal is closed")

// Journal is a JSON-lines enforcement log with numbered generations.
type Journal struct {
	path      string
	retention Retention

	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	events int // events in the live file
}

// Open opens or creates the journal at path. Events already in the live
// file count toward the next rotation.
func Open(path string, retention Retention) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	j := &Journal{path: path, retention: retention}
	if err := j.openLive(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) openLive() error {
	n, err := countEvents(j.path)
	if err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	j.file, j.enc, j.events = f, json.NewEncoder(f), n
	return nil
}

// Log appends event, rotating first if the live file is full.
func (j *Journal) Log(event *Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errJournalClosed
	}
	if j.retention.MaxEvents > 0 && j.events >= j.retention.MaxEvents {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	if err := j.enc.Encode(event); err != nil {
		return err
	}
	j.events++
	return nil
}

func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return err
	}
	j.file = nil

	keep := max(j.retention.Generations, 1)
	if err := os.Remove(j.generation(keep)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for n := keep - 1; n >= 1; n-- {
		if err := os.Rename(j.generation(n), j.generation(n+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := os.Rename(j.path, j.generation(1)); err != nil {
		return err
	}
	return j.openLive()
}

func (j *Journal) generation(n int) string {
	return j.path + "." + strconv.Itoa(n)
}

// files lists the rotated generations oldest first, then the live file.
func (j *Journal) files() []string {
	var gens []string
	for n := 1; ; n++ {
		if _, err := os.Stat(j.generation(n)); err != nil {
			break
		}
		gens = append(gens, j.generation(n))
	}
	out := make([]string, 0, len(gens)+1)
	for i := len(gens) - 1; i >= 0; i-- {
		out = append(out, gens[i])
	}
	return append(out, j.path)
}

// Query returns the events matching filter across every generation, in
// the order they were logged. A Limit keeps the most recent events.
func (j *Journal) Query(filter Filter) ([]*Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	events := []*Event{}
	for _, path := range j.files() {
		err := scanEvents(path, func(e *Event) {
			if filter.Match(e) {
				events = append(events, e)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[len(events)-filter.Limit:]
	}
	return events, nil
}

// Close closes the live file. Query keeps working after Close.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// scanEvents calls fn for each well-formed event in path. A missing file
// holds no events.
func scanEvents(path string, fn func(*Event)) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			util.Warnf("audit: skipping malformed entry %s:%d: %v", filepath.Base(path), line, err)
			continue
		}
		fn(&e)
	}
	return sc.Err()
}

func countEvents(path string) (int, error) {
	n := 0
	err := scanEvents(path, func(*Event) { n++ })
	return n, err
}

// CountBy groups events by key and returns the count per key.
func CountBy(events []*Event, key func(*Event) string) map[string]int {
	counts := make(map[string]int)
	for _, e := range events {
		counts[key(e)]++
	}
	return counts
}
