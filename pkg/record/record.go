// Frame trace capture, CBOR encoded.
// A trace is a stream of self delimiting CBOR records, one per frame, that
// can be replayed against the hardware interface with the replay driver.
package record

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	canhal "github.com/openagritech/canhal"
)

// Entry is a single recorded frame with its offset from the trace start
type Entry struct {
	Offset  time.Duration `cbor:"offset"`
	Channel uint8         `cbor:"channel"`
	ID      uint32        `cbor:"id"`
	Flags   uint8         `cbor:"flags,omitempty"`
	Data    []byte        `cbor:"data"`
}

// Frame converts the entry back to a CAN frame
func (e Entry) Frame() canhal.Frame {
	frame := canhal.NewFrame(e.Channel, e.ID, e.Data)
	frame.Flags = e.Flags
	return frame
}

// Writer records frames to a trace.
// The trace clock starts at the first recorded frame.
// Safe for concurrent use so it can be subscribed to several dispatchers.
type Writer struct {
	mu    sync.Mutex
	enc   *cbor.Encoder
	start time.Time
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: cbor.NewEncoder(w)}
}

// Write appends one frame to the trace.
// A zero frame timestamp records the current time.
func (w *Writer) Write(frame canhal.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	at := frame.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	if w.start.IsZero() {
		w.start = at
	}
	return w.enc.Encode(Entry{
		Offset:  at.Sub(w.start),
		Channel: frame.Channel,
		ID:      frame.ID,
		Flags:   frame.Flags,
		Data:    append([]byte{}, frame.Data[:frame.DLC]...),
	})
}

// Listener adapts the writer to a frame dispatcher, encode errors are
// dropped because listeners have nowhere to report them
func (w *Writer) Listener() func(canhal.Frame) {
	return func(frame canhal.Frame) {
		_ = w.Write(frame)
	}
}

// ReadAll decodes every entry of a trace
func ReadAll(r io.Reader) ([]Entry, error) {
	dec := cbor.NewDecoder(r)
	var entries []Entry
	for {
		var entry Entry
		err := dec.Decode(&entry)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
}

// ReadFile loads a trace from disk
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}
