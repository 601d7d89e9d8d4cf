package canhal

import "errors"

// Transient driver conditions, recovered internally by retrying
// on the next receive / update pass
var (
	ErrBusy   = errors.New("sending rejected because driver is busy. Try again")
	ErrNoData = errors.New("no data available")
)

// Configuration rejections, reported synchronously to the caller
var (
	ErrRunning        = errors.New("hardware interface is running")
	ErrNotRunning     = errors.New("hardware interface is not running")
	ErrInvalidChannel = errors.New("channel index out of range")
	ErrDriverAssigned = errors.New("channel already has a driver")
	ErrNoDriver       = errors.New("channel has no driver")
	ErrNotOpen        = errors.New("driver is not open")
)
