package sensors

import (
	"context"
	"errors"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// Transport level failures. Transports return (or wrap) these so callers can
// classify errors with errors.Is regardless of the adapter in use.
var (
	ErrNotAcknowledged = errors.New("device did not acknowledge")
	ErrTimeout         = errors.New("bus transaction timed out")
	ErrShortRead       = errors.New("device returned fewer bytes than requested")
)

type BusReader interface {
	Read(ctx context.Context, buffer []byte) error
}

type BusWriter interface {
	Write(ctx context.Context, buffer []byte) error
}

type AddressableReader interface {
	// ReadFromAddr fills the whole buffer or fails; a transport that receives
	// fewer bytes than len(buffer) must return an error wrapping ErrShortRead.
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}

type I2CDevice interface {
	BusReader
	BusWriter
}

// BusError describes a failed register transaction.
type BusError struct {
	Op       string
	Addr     byte
	Register byte
	Err      error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s register 0x%02x on device 0x%02x: %v", e.Op, e.Register, e.Addr, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}
