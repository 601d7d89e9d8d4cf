// SocketCAN driver adapter, built on the implementation
// that can be found here : https://github.com/brutella/can
package socketcan

import (
	"time"

	sockcan "github.com/brutella/can"
	canhal "github.com/openagritech/canhal"
	"github.com/openagritech/canhal/pkg/driver"
)

func init() {
	driver.Register("socketcan", New)
}

// Received frames are buffered between brutella's publish goroutine and
// TryRead. The hardware interface drains this fast, the buffer only fills
// if the update goroutine stalls.
const rxBufferSize = 512

// How long TryRead waits for a frame before reporting no data
const readPollTimeout = 100 * time.Millisecond

type SocketcanDriver struct {
	channel string
	bus     *sockcan.Bus
	rx      chan canhal.Frame
}

func New(endpoint string) (canhal.Driver, error) {
	return &SocketcanDriver{
		channel: endpoint,
		rx:      make(chan canhal.Frame, rxBufferSize),
	}, nil
}

func (s *SocketcanDriver) Name() string {
	return "socketcan:" + s.channel
}

// "Open" implementation of Driver interface.
// brutella/can delivers frames through a subscription callback, so reception
// is started here and TryRead reads from the internal buffer.
func (s *SocketcanDriver) Open() error {
	bus, err := sockcan.NewBusForInterfaceWithName(s.channel)
	if err != nil {
		return err
	}
	s.bus = bus
	bus.Subscribe(s)
	go func() {
		// Returns when the bus is disconnected
		_ = bus.ConnectAndPublish()
	}()
	return nil
}

// "Close" implementation of Driver interface
func (s *SocketcanDriver) Close() error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Disconnect()
}

// "TryWrite" implementation of Driver interface
func (s *SocketcanDriver) TryWrite(frame canhal.Frame) error {
	if s.bus == nil {
		return canhal.ErrNotOpen
	}
	return s.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Res0:   0,
		Res1:   0,
		Data:   frame.Data,
	})
}

// "TryRead" implementation of Driver interface
func (s *SocketcanDriver) TryRead() (canhal.Frame, error) {
	if s.bus == nil {
		return canhal.Frame{}, canhal.ErrNotOpen
	}
	select {
	case frame := <-s.rx:
		return frame, nil
	case <-time.After(readPollTimeout):
		return canhal.Frame{}, canhal.ErrNoData
	}
}

// brutella/can specific "Handle" implementation, converts and buffers
// received frames
func (s *SocketcanDriver) Handle(frame sockcan.Frame) {
	converted := canhal.Frame{
		ID:        frame.ID,
		DLC:       frame.Length,
		Flags:     frame.Flags,
		Data:      frame.Data,
		Timestamp: time.Now(),
	}
	select {
	case s.rx <- converted:
	default:
		// Buffer full, frame is lost. The kernel queue has the same failure
		// mode when nobody reads fast enough
	}
}
