// Replay driver, plays a recorded frame trace back as if it were live
// hardware and discards written frames. Useful for integration testing and
// benching the stack without a bus.
package replay

import (
	"sync"
	"time"

	canhal "github.com/openagritech/canhal"
	"github.com/openagritech/canhal/pkg/driver"
	"github.com/openagritech/canhal/pkg/record"
)

func init() {
	driver.Register("replay", New)
}

// Longest single wait inside TryRead, keeps the receive goroutine
// responsive to a stop request while waiting for a distant frame
const maxPollWait = 100 * time.Millisecond

type ReplayDriver struct {
	path string

	mu      sync.Mutex
	entries []record.Entry
	pos     int
	started time.Time
}

// New creates a replay driver, the endpoint is the trace file path
func New(endpoint string) (canhal.Driver, error) {
	return &ReplayDriver{path: endpoint}, nil
}

func (r *ReplayDriver) Name() string {
	return "replay:" + r.path
}

// "Open" implementation of Driver interface, loads the trace and starts
// the playback clock
func (r *ReplayDriver) Open() error {
	entries, err := record.ReadFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = entries
	r.pos = 0
	r.started = time.Now()
	return nil
}

// "Close" implementation of Driver interface
func (r *ReplayDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.pos = 0
	r.started = time.Time{}
	return nil
}

// "TryWrite" implementation of Driver interface.
// Written frames go nowhere, the bus being replayed is one way.
func (r *ReplayDriver) TryWrite(frame canhal.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.IsZero() {
		return canhal.ErrNotOpen
	}
	return nil
}

// "TryRead" implementation of Driver interface.
// Frames are delivered with the original inter frame gaps, relative to the
// moment the driver was opened.
func (r *ReplayDriver) TryRead() (canhal.Frame, error) {
	r.mu.Lock()
	if r.started.IsZero() {
		r.mu.Unlock()
		return canhal.Frame{}, canhal.ErrNotOpen
	}
	if r.pos >= len(r.entries) {
		r.mu.Unlock()
		// Trace exhausted, the bus goes quiet
		time.Sleep(maxPollWait)
		return canhal.Frame{}, canhal.ErrNoData
	}
	entry := r.entries[r.pos]
	due := r.started.Add(entry.Offset)
	wait := time.Until(due)
	if wait > maxPollWait {
		r.mu.Unlock()
		time.Sleep(maxPollWait)
		return canhal.Frame{}, canhal.ErrNoData
	}
	r.pos++
	r.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
	frame := entry.Frame()
	frame.Timestamp = due
	return frame, nil
}
