// Package canhal provides the hardware abstraction layer that separates a
// CAN protocol stack from the underlying CAN drivers.
// It gives every configured CAN channel its own transmit and receive queues,
// runs driver I/O on dedicated goroutines and wakes a single update goroutine
// whenever there is work to do or a timer elapses.
// Actual scheduling lives in pkg/hardware, driver adapters live under
// pkg/driver.
package canhal

import "time"

// Arbitration id flag bits and masks, following the socketcan convention
// of carrying the frame format in the upper bits of the id itself
const CanRtrFlag uint32 = 0x40000000
const CanEffFlag uint32 = 0x80000000
const CanSffMask uint32 = 0x000007FF
const CanEffMask uint32 = 0x1FFFFFFF

// Maximum payload length of a classic CAN frame
const MaxDataLength uint8 = 8

// A Frame is a single CAN frame on a given channel.
// Frames are values : they are copied between queues, never mutated.
type Frame struct {
	Channel   uint8
	ID        uint32
	Flags     uint8
	DLC       uint8
	Data      [8]byte
	Timestamp time.Time
}

// NewFrame creates a frame for the given channel & arbitration id.
// Data longer than [MaxDataLength] is truncated.
func NewFrame(channel uint8, id uint32, data []byte) Frame {
	frame := Frame{Channel: channel, ID: id}
	if len(data) > int(MaxDataLength) {
		data = data[:MaxDataLength]
	}
	frame.DLC = uint8(len(data))
	copy(frame.Data[:], data)
	return frame
}

// IsExtended reports whether the frame carries a 29 bit arbitration id
func (frame Frame) IsExtended() bool {
	return frame.ID&CanEffFlag != 0
}

// IsRemote reports whether the frame is a remote transmission request
func (frame Frame) IsRemote() bool {
	return frame.ID&CanRtrFlag != 0
}

// Arbitration returns the id stripped of its flag bits, masked to 29 or
// 11 bits depending on the frame format
func (frame Frame) Arbitration() uint32 {
	if frame.IsExtended() {
		return frame.ID & CanEffMask
	}
	return frame.ID & CanSffMask
}

// A Driver is the capability contract implemented by CAN hardware adapters.
// The hardware interface never assumes a specific transport : anything
// satisfying this contract can be assigned to a channel at configuration time.
//
// TryRead may block or poll, that is the driver's choice, but a polling
// driver is expected to rate limit itself (e.g. with a read deadline)
// because the receive goroutine calls it in a tight loop.
// A driver is used by at most two goroutines at a time : one receive
// goroutine calling TryRead and one update goroutine calling TryWrite.
type Driver interface {
	// Open connects to the hardware. Called by the hardware interface on Start()
	Open() error
	// Close disconnects from the hardware. Called on Stop() after all
	// goroutines have been joined
	Close() error
	// TryWrite attempts a non blocking write of a single frame.
	// Returns ErrBusy if the hardware cannot accept the frame right now,
	// in which case the frame will be retried on the next pass.
	TryWrite(frame Frame) error
	// TryRead attempts to receive a single frame.
	// Returns ErrNoData when nothing is available.
	TryRead() (Frame, error)
	// Name identifies the driver & endpoint, e.g. "socketcan:can0"
	Name() string
}
