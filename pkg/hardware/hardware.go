// Common queuing and scheduling layer for running a CAN protocol stack and
// all CAN drivers. It decouples the stack's frame processing from the timing
// and blocking behavior of real hardware : every configured channel gets its
// own Tx/Rx queues and a dedicated receive goroutine, while a single update
// goroutine drains the queues and fires events in a consistent order.
package hardware

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	canhal "github.com/openagritech/canhal"
	"github.com/openagritech/canhal/internal/fifo"
	"github.com/openagritech/canhal/pkg/event"
)

// Default period between periodic update events. Mostly arbitrary
const DefaultPeriodicUpdateInterval = 4 * time.Millisecond

// Delay before retrying a driver read that failed with a hard error
const receiveRetryDelay = 100 * time.Millisecond

// Tx/Rx queues and driver binding for a single CAN channel.
// The driver reference and the receive goroutine are created and torn down
// together : a channel never has a running receive goroutine without a driver.
type channel struct {
	txMu   sync.Mutex
	tx     *fifo.Fifo
	rxMu   sync.Mutex
	rx     *fifo.Fifo
	driver canhal.Driver
}

func newChannel() *channel {
	return &channel{tx: fifo.New(0), rx: fifo.New(0)}
}

// Interface manages all configured CAN channels and the goroutines that
// drive them. Construct one with [NewInterface] and hand it to collaborators,
// there is no process wide singleton.
//
// Configuration (channel count, driver assignment) is only allowed while
// stopped and must be serialized by the caller, typically on a single setup
// goroutine before Start.
type Interface struct {
	logger *slog.Logger

	mu       sync.Mutex
	channels []*channel

	running     atomic.Bool
	workPending atomic.Bool
	wakeup      chan struct{}
	stop        chan struct{}
	wg          sync.WaitGroup

	periodicUpdateInterval atomic.Int64 // nanoseconds

	frameReceived    *event.Dispatcher[canhal.Frame]
	frameTransmitted *event.Dispatcher[canhal.Frame]
	periodicUpdate   *event.Dispatcher[time.Duration]
}

func NewInterface(logger *slog.Logger) *Interface {
	if logger == nil {
		logger = slog.Default()
	}
	iface := &Interface{
		logger:           logger,
		wakeup:           make(chan struct{}, 1),
		frameReceived:    event.NewDispatcher[canhal.Frame](),
		frameTransmitted: event.NewDispatcher[canhal.Frame](),
		periodicUpdate:   event.NewDispatcher[time.Duration](),
	}
	iface.periodicUpdateInterval.Store(int64(DefaultPeriodicUpdateInterval))
	return iface
}

// ChannelCount returns the number of configured CAN channels
func (iface *Interface) ChannelCount() int {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	return len(iface.channels)
}

// SetChannelCount resizes the channel collection.
// Growing adds fresh driver-less channels, shrinking destroys the trailing
// ones. Fails while running, and fails if a channel to be destroyed still
// has a driver assigned : unassign it first.
func (iface *Interface) SetChannelCount(count int) error {
	if count < 0 {
		return canhal.ErrInvalidChannel
	}
	iface.mu.Lock()
	defer iface.mu.Unlock()
	if iface.running.Load() {
		return canhal.ErrRunning
	}
	for _, ch := range iface.channels[min(count, len(iface.channels)):] {
		if ch.driver != nil {
			return canhal.ErrDriverAssigned
		}
	}
	for len(iface.channels) > count {
		iface.channels = iface.channels[:len(iface.channels)-1]
	}
	for len(iface.channels) < count {
		iface.channels = append(iface.channels, newChannel())
	}
	return nil
}

// AssignDriver binds a driver to a channel.
// Fails if the index is out of range, if the channel already has a driver,
// or while running.
func (iface *Interface) AssignDriver(index int, driver canhal.Driver) error {
	if driver == nil {
		return canhal.ErrNoDriver
	}
	iface.mu.Lock()
	defer iface.mu.Unlock()
	if iface.running.Load() {
		return canhal.ErrRunning
	}
	if index < 0 || index >= len(iface.channels) {
		return canhal.ErrInvalidChannel
	}
	if iface.channels[index].driver != nil {
		return canhal.ErrDriverAssigned
	}
	iface.channels[index].driver = driver
	return nil
}

// UnassignDriver clears a channel's driver binding.
// Fails while running regardless of the current assignment state.
func (iface *Interface) UnassignDriver(index int) error {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	if iface.running.Load() {
		return canhal.ErrRunning
	}
	if index < 0 || index >= len(iface.channels) {
		return canhal.ErrInvalidChannel
	}
	if iface.channels[index].driver == nil {
		return canhal.ErrNoDriver
	}
	iface.channels[index].driver = nil
	return nil
}

// Start opens every assigned driver and launches the goroutines : one
// receive goroutine per driver-bound channel, the update goroutine and the
// wakeup goroutine. Fails if already running.
// A driver that fails to open is logged, its receive goroutine keeps
// retrying while other channels operate normally.
func (iface *Interface) Start() error {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	if iface.running.Load() {
		return canhal.ErrRunning
	}
	iface.stop = make(chan struct{})
	iface.running.Store(true)
	for index, ch := range iface.channels {
		if ch.driver == nil {
			continue
		}
		if err := ch.driver.Open(); err != nil {
			iface.logger.Error("failed to open driver",
				"channel", index, "driver", ch.driver.Name(), "err", err)
		}
		iface.wg.Add(1)
		go iface.receiveLoop(index, ch)
	}
	iface.wg.Add(2)
	go iface.updateLoop()
	go iface.wakeupLoop()
	return nil
}

// Stop clears the running flag, wakes all blocked goroutines and joins them,
// closes the drivers, then discards all queued Tx & Rx frames.
// Frames still queued are dropped, not flushed : callers needing guaranteed
// delivery must drain before stopping.
// Must not be called from inside a listener fired by the update goroutine.
func (iface *Interface) Stop() error {
	iface.mu.Lock()
	if !iface.running.Load() {
		iface.mu.Unlock()
		return canhal.ErrNotRunning
	}
	iface.running.Store(false)
	close(iface.stop)
	iface.mu.Unlock()

	iface.wg.Wait()

	iface.mu.Lock()
	defer iface.mu.Unlock()
	for index, ch := range iface.channels {
		if ch.driver != nil {
			if err := ch.driver.Close(); err != nil {
				iface.logger.Warn("failed to close driver",
					"channel", index, "driver", ch.driver.Name(), "err", err)
			}
		}
		ch.txMu.Lock()
		ch.tx.Reset()
		ch.txMu.Unlock()
		ch.rxMu.Lock()
		ch.rx.Reset()
		ch.rxMu.Unlock()
	}
	// Drop any stale wake signal left from before the join
	select {
	case <-iface.wakeup:
	default:
	}
	iface.workPending.Store(false)
	return nil
}

// IsRunning reports whether the goroutines are running
func (iface *Interface) IsRunning() bool {
	return iface.running.Load()
}

// Transmit queues a frame on the Tx queue of the channel given by
// frame.Channel and wakes the update goroutine.
// Returning nil means the frame was accepted, the hardware write itself is
// asynchronous. Fails if not running, if the channel is out of range or if
// it has no driver assigned.
func (iface *Interface) Transmit(frame canhal.Frame) error {
	if !iface.running.Load() {
		return canhal.ErrNotRunning
	}
	iface.mu.Lock()
	if int(frame.Channel) >= len(iface.channels) {
		iface.mu.Unlock()
		return canhal.ErrInvalidChannel
	}
	ch := iface.channels[frame.Channel]
	iface.mu.Unlock()
	if ch.driver == nil {
		return canhal.ErrNoDriver
	}
	ch.txMu.Lock()
	// Re-checked under the queue lock : a transmit racing Stop either lands
	// before the purge and is discarded with the rest, or observes the
	// cleared flag here. No frame can survive into the next Start.
	if !iface.running.Load() {
		ch.txMu.Unlock()
		return canhal.ErrNotRunning
	}
	ch.tx.Push(frame)
	ch.txMu.Unlock()
	iface.signalWorkPending()
	return nil
}

// FrameReceived returns the dispatcher fired for every frame received from
// hardware. The protocol stack registers its processing entry point here.
func (iface *Interface) FrameReceived() *event.Dispatcher[canhal.Frame] {
	return iface.frameReceived
}

// FrameTransmitted returns the dispatcher fired after a frame has been
// handed to the driver
func (iface *Interface) FrameTransmitted() *event.Dispatcher[canhal.Frame] {
	return iface.frameTransmitted
}

// PeriodicUpdate returns the dispatcher fired at the periodic update cadence,
// with the time elapsed since the previous firing
func (iface *Interface) PeriodicUpdate() *event.Dispatcher[time.Duration] {
	return iface.periodicUpdate
}

// SetPeriodicUpdateInterval changes the period between periodic update
// events. Writable at any time, takes effect on the next wakeup cycle.
func (iface *Interface) SetPeriodicUpdateInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPeriodicUpdateInterval
	}
	iface.periodicUpdateInterval.Store(int64(interval))
}

func (iface *Interface) PeriodicUpdateInterval() time.Duration {
	return time.Duration(iface.periodicUpdateInterval.Load())
}

// Mark work pending and wake the update goroutine.
// The wakeup channel has capacity 1, an already pending signal is enough.
func (iface *Interface) signalWorkPending() {
	iface.workPending.Store(true)
	select {
	case iface.wakeup <- struct{}{}:
	default:
	}
}

// The update goroutine. Waits until there is work pending or the wait times
// out, drains all channel queues, then fires the periodic update event if the
// configured interval has elapsed since the last firing.
func (iface *Interface) updateLoop() {
	defer iface.wg.Done()
	lastPeriodic := time.Now()
	interval := iface.PeriodicUpdateInterval()
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-iface.stop:
			return
		case <-iface.wakeup:
		case <-timer.C:
		}
		iface.workPending.Store(false)
		iface.processTxQueues()
		iface.processRxQueues()
		interval = iface.PeriodicUpdateInterval()
		if elapsed := time.Since(lastPeriodic); elapsed >= interval {
			iface.periodicUpdate.Dispatch(elapsed)
			lastPeriodic = time.Now()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}

// The wakeup goroutine. Wakes the update goroutine every periodic update
// interval so the stack's timers advance even with zero bus traffic.
func (iface *Interface) wakeupLoop() {
	defer iface.wg.Done()
	for {
		select {
		case <-iface.stop:
			return
		case <-time.After(iface.PeriodicUpdateInterval()):
			iface.signalWorkPending()
		}
	}
}

// The receive goroutine, one per driver-bound channel.
// Polls the driver, queues received frames and wakes the update goroutine.
// Hard driver errors are logged and retried after a delay, the loop only
// exits when Stop clears the running state.
func (iface *Interface) receiveLoop(index int, ch *channel) {
	defer iface.wg.Done()
	for {
		select {
		case <-iface.stop:
			return
		default:
		}
		frame, err := ch.driver.TryRead()
		switch {
		case err == nil:
			frame.Channel = uint8(index)
			if frame.Timestamp.IsZero() {
				frame.Timestamp = time.Now()
			}
			ch.rxMu.Lock()
			ch.rx.Push(frame)
			ch.rxMu.Unlock()
			iface.signalWorkPending()
		case errors.Is(err, canhal.ErrNoData):
			// nothing available, poll again
		default:
			iface.logger.Error("receive failed",
				"channel", index, "driver", ch.driver.Name(), "err", err)
			select {
			case <-iface.stop:
				return
			case <-time.After(receiveRetryDelay):
			}
		}
	}
}

// Drain the Tx queues : attempt a non blocking write of each channel's front
// frame until the queue is empty or the driver reports busy. A refused frame
// stays at the front and is retried on the next pass, preserving order.
func (iface *Interface) processTxQueues() {
	iface.mu.Lock()
	channels := iface.channels
	iface.mu.Unlock()
	for index, ch := range channels {
		if ch.driver == nil {
			continue
		}
		for {
			ch.txMu.Lock()
			frame, ok := ch.tx.Peek()
			ch.txMu.Unlock()
			if !ok {
				break
			}
			err := ch.driver.TryWrite(frame)
			if err != nil {
				if !errors.Is(err, canhal.ErrBusy) {
					iface.logger.Error("transmit failed",
						"channel", index, "driver", ch.driver.Name(), "err", err)
				}
				// Frame stays queued, stop draining this channel for now
				break
			}
			ch.txMu.Lock()
			ch.tx.Pop()
			ch.txMu.Unlock()
			iface.frameTransmitted.Dispatch(frame)
		}
	}
}

// Drain the Rx queues and hand every frame to the listeners, in arrival
// order per channel
func (iface *Interface) processRxQueues() {
	iface.mu.Lock()
	channels := iface.channels
	iface.mu.Unlock()
	for _, ch := range channels {
		for {
			ch.rxMu.Lock()
			frame, ok := ch.rx.Pop()
			ch.rxMu.Unlock()
			if !ok {
				break
			}
			iface.frameReceived.Dispatch(frame)
		}
	}
}
