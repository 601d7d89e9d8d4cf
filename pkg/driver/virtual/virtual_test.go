package virtual

import (
	"errors"
	"io"
	"net"
	"testing"

	canhal "github.com/openagritech/canhal"
	"github.com/stretchr/testify/assert"
)

// Minimal single client broker : echoes every frame back to its sender
func startEchoBroker(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()
	return listener.Addr().String()
}

func newDriver(t *testing.T, endpoint string) *VirtualDriver {
	t.Helper()
	drv, err := New(endpoint)
	assert.Nil(t, err)
	vdrv, ok := drv.(*VirtualDriver)
	assert.True(t, ok)
	return vdrv
}

func TestTryWriteAndTryRead(t *testing.T) {
	endpoint := startEchoBroker(t)
	drv := newDriver(t, endpoint)
	assert.Nil(t, drv.Open())
	defer drv.Close()

	sent := canhal.NewFrame(0, 0x111, []byte{0, 1, 2, 3, 4, 5, 6, 7})
	for i := 0; i < 10; i++ {
		sent.Data[0] = uint8(i)
		assert.Nil(t, drv.TryWrite(sent))
	}
	for i := 0; i < 10; i++ {
		frame, err := drv.TryRead()
		assert.Nil(t, err)
		assert.Equal(t, uint32(0x111), frame.ID)
		assert.Equal(t, uint8(8), frame.DLC)
		assert.Equal(t, uint8(i), frame.Data[0])
	}
}

func TestTryReadNoData(t *testing.T) {
	endpoint := startEchoBroker(t)
	drv := newDriver(t, endpoint)
	assert.Nil(t, drv.Open())
	defer drv.Close()

	_, err := drv.TryRead()
	assert.True(t, errors.Is(err, canhal.ErrNoData))
}

func TestReceiveOwnLoopback(t *testing.T) {
	endpoint := startEchoBroker(t)
	drv := newDriver(t, endpoint)
	drv.SetReceiveOwn(true)
	assert.Nil(t, drv.Open())
	defer drv.Close()

	sent := canhal.NewFrame(0, 0x77, []byte{9})
	assert.Nil(t, drv.TryWrite(sent))
	frame, err := drv.TryRead()
	assert.Nil(t, err)
	assert.Equal(t, uint32(0x77), frame.ID)
	assert.Equal(t, uint8(9), frame.Data[0])
}

func TestNotOpen(t *testing.T) {
	drv := newDriver(t, "localhost:1")
	assert.Equal(t, canhal.ErrNotOpen, drv.TryWrite(canhal.NewFrame(0, 0x1, nil)))
	_, err := drv.TryRead()
	assert.Equal(t, canhal.ErrNotOpen, err)
	// Closing a never opened driver is fine
	assert.Nil(t, drv.Close())
}

func TestOpenFailure(t *testing.T) {
	// Reserved port, nobody listening
	drv := newDriver(t, "127.0.0.1:1")
	assert.NotNil(t, drv.Open())
}
