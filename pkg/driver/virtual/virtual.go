// Virtual CAN driver over TCP, primarily used for testing without hardware.
// This needs a broker server that forwards CAN frames to all connected
// clients. More information : https://github.com/windelbouwman/virtualcan
package virtual

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	canhal "github.com/openagritech/canhal"
	"github.com/openagritech/canhal/pkg/driver"
)

func init() {
	driver.Register("virtual", New)
	driver.Register("virtualcan", New)
}

// Read deadline used by TryRead, doubles as the polling interval
const readTimeout = 200 * time.Millisecond

// Write deadline used by TryWrite, a saturated connection reports busy
const writeTimeout = 10 * time.Millisecond

type VirtualDriver struct {
	mu         sync.Mutex
	endpoint   string
	conn       net.Conn
	receiveOwn bool
	loopback   []canhal.Frame
}

func New(endpoint string) (canhal.Driver, error) {
	return &VirtualDriver{endpoint: endpoint}, nil
}

// On-wire layout of a frame, each one prefixed with a big endian length
type wireFrame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func serializeFrame(frame canhal.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, wireFrame{
		ID:    frame.ID,
		Flags: frame.Flags,
		DLC:   frame.DLC,
		Data:  frame.Data,
	})
	if err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	return append(frameBytes, dataBytes...), nil
}

func deserializeFrame(buffer []byte) (canhal.Frame, error) {
	var wire wireFrame
	err := binary.Read(bytes.NewBuffer(buffer), binary.BigEndian, &wire)
	if err != nil {
		return canhal.Frame{}, err
	}
	return canhal.Frame{
		ID:        wire.ID,
		Flags:     wire.Flags,
		DLC:       wire.DLC,
		Data:      wire.Data,
		Timestamp: time.Now(),
	}, nil
}

func (v *VirtualDriver) Name() string {
	return "virtual:" + v.endpoint
}

// "Open" implementation of Driver interface, connects to the broker,
// e.g. localhost:18000
func (v *VirtualDriver) Open() error {
	conn, err := net.Dial("tcp", v.endpoint)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return err
		}
	}
	v.mu.Lock()
	v.conn = conn
	v.mu.Unlock()
	return nil
}

// "Close" implementation of Driver interface
func (v *VirtualDriver) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil {
		return nil
	}
	err := v.conn.Close()
	v.conn = nil
	v.loopback = nil
	return err
}

// "TryWrite" implementation of Driver interface.
// A timed out write means the connection is saturated and reports busy,
// the frame will be retried.
func (v *VirtualDriver) TryWrite(frame canhal.Frame) error {
	v.mu.Lock()
	conn := v.conn
	if v.receiveOwn {
		v.loopback = append(v.loopback, frame)
	}
	v.mu.Unlock()
	if conn == nil {
		return canhal.ErrNotOpen
	}
	frameBytes, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = conn.Write(frameBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return canhal.ErrBusy
	}
	return err
}

// "TryRead" implementation of Driver interface.
// Blocks until the read deadline, a deadline hit reports no data so the
// receive goroutine can observe a stop request.
func (v *VirtualDriver) TryRead() (canhal.Frame, error) {
	v.mu.Lock()
	conn := v.conn
	if len(v.loopback) > 0 {
		frame := v.loopback[0]
		v.loopback = v.loopback[1:]
		v.mu.Unlock()
		return frame, nil
	}
	v.mu.Unlock()
	if conn == nil {
		return canhal.Frame{}, canhal.ErrNotOpen
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	headerBytes := make([]byte, 4)
	if _, err := io.ReadFull(conn, headerBytes); err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return canhal.Frame{}, canhal.ErrNoData
		}
		return canhal.Frame{}, err
	}
	length := binary.BigEndian.Uint32(headerBytes)
	frameBytes := make([]byte, length)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	if _, err := io.ReadFull(conn, frameBytes); err != nil {
		return canhal.Frame{}, err
	}
	return deserializeFrame(frameBytes)
}

// SetReceiveOwn makes sent frames also show up on TryRead, useful for
// exercising the full path in tests without a second client
func (v *VirtualDriver) SetReceiveOwn(receiveOwn bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.receiveOwn = receiveOwn
}
