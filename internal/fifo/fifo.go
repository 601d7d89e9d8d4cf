package fifo

import canhal "github.com/openagritech/canhal"

const defaultSize = 16

// Circular Fifo of CAN frames used for the per channel Tx & Rx queues.
// The queue is unbounded : the ring grows when full, frames are never
// dropped on sustained driver unavailability.
// Not safe for concurrent use, each queue is guarded by its channel's mutex.
type Fifo struct {
	buffer   []canhal.Frame
	readPos  int
	writePos int
	occupied int
}

func New(size int) *Fifo {
	if size <= 0 {
		size = defaultSize
	}
	return &Fifo{buffer: make([]canhal.Frame, size)}
}

func (f *Fifo) Len() int {
	return f.occupied
}

// Push appends a frame at the back of the queue
func (f *Fifo) Push(frame canhal.Frame) {
	if f.occupied == len(f.buffer) {
		f.grow()
	}
	f.buffer[f.writePos] = frame
	f.writePos++
	if f.writePos == len(f.buffer) {
		f.writePos = 0
	}
	f.occupied++
}

// Peek returns the frame at the front without removing it
func (f *Fifo) Peek() (canhal.Frame, bool) {
	if f.occupied == 0 {
		return canhal.Frame{}, false
	}
	return f.buffer[f.readPos], true
}

// Pop removes and returns the frame at the front
func (f *Fifo) Pop() (canhal.Frame, bool) {
	if f.occupied == 0 {
		return canhal.Frame{}, false
	}
	frame := f.buffer[f.readPos]
	f.readPos++
	if f.readPos == len(f.buffer) {
		f.readPos = 0
	}
	f.occupied--
	return frame, true
}

// Reset discards all queued frames
func (f *Fifo) Reset() {
	f.readPos = 0
	f.writePos = 0
	f.occupied = 0
}

func (f *Fifo) grow() {
	buffer := make([]canhal.Frame, 2*len(f.buffer))
	n := copy(buffer, f.buffer[f.readPos:])
	copy(buffer[n:], f.buffer[:f.writePos])
	f.buffer = buffer
	f.readPos = 0
	f.writePos = f.occupied
}
