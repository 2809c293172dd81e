// Package register frames byte-addressed register transactions on top of an
// I2C transport.
//
// Every write is a two byte frame [register, value]. Reads set the device
// cursor with a one byte frame [register] and then read one or more bytes.
// The device needs time to commit a write or move its cursor, so each phase
// is followed by a settle delay. A single register operation therefore costs
// a few milliseconds; do not call it from latency sensitive code.
//
// Multi-byte values are big-endian: the first byte on the wire is the most
// significant one.
package register

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/lightprox"
	"github.com/mklimuk/lightprox/snsctx"
)

// ScratchSize is the capacity of the buffer used to stage burst reads.
const ScratchSize = 4

const (
	DefaultSettleDelay = 1 * time.Millisecond
	DefaultTimeout     = 100 * time.Millisecond
)

var ErrInvalidLength = errors.New("invalid read length")
var ErrInvalidBit = errors.New("bit index out of range")

type Opts struct {
	SettleDelay time.Duration
	Timeout     time.Duration
}

type Opt func(*Opts)

// WithSettleDelay overrides the minimum wait after every bus phase. Test
// doubles and fast transports may set it to 0.
func WithSettleDelay(delay time.Duration) Opt {
	return func(o *Opts) {
		o.SettleDelay = delay
	}
}

// WithTimeout bounds every single transport call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Opt {
	return func(o *Opts) {
		o.Timeout = timeout
	}
}

// Device gives register level access to one device on the bus. It is not
// safe for concurrent use; callers serialise access themselves.
type Device struct {
	config    Opts
	transport sensors.I2CBus
	addr      byte
	scratch   [ScratchSize]byte
	// result of a transport call abandoned on timeout, nil when the bus is idle
	pending   <-chan error
}

func New(transport sensors.I2CBus, addr byte, opts ...Opt) *Device {
	config := Opts{
		SettleDelay: DefaultSettleDelay,
		Timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Device{
		config:    config,
		transport: transport,
		addr:      addr,
	}
}

// Addr returns the 7-bit bus address of the device.
func (d *Device) Addr() byte {
	return d.addr
}

// Write stores value in register reg.
func (d *Device) Write(ctx context.Context, reg, value byte) error {
	frame := []byte{reg, value}
	err := d.call(ctx, func(ctx context.Context) error {
		return d.transport.WriteToAddr(ctx, d.addr, frame)
	})
	if err != nil {
		return d.wrap("write", reg, err)
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("register write", "addr", fmt.Sprintf("0x%02x", d.addr), "reg", fmt.Sprintf("0x%02x", reg), "value", fmt.Sprintf("0x%02x", value))
	}
	if err := d.settle(ctx); err != nil {
		return d.wrap("write", reg, err)
	}
	return nil
}

// Read returns the content of register reg.
func (d *Device) Read(ctx context.Context, reg byte) (byte, error) {
	buf, err := d.read(ctx, reg, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadN performs a burst read of n consecutive registers starting at reg.
// n must be between 1 and ScratchSize. A transport that delivers fewer bytes
// fails the call with an error matching sensors.ErrShortRead; partial data
// is never returned.
func (d *Device) ReadN(ctx context.Context, reg byte, n int) ([]byte, error) {
	buf, err := d.read(ctx, reg, n)
	if err != nil {
		return nil, err
	}
	res := make([]byte, n)
	copy(res, buf)
	return res, nil
}

// ReadUint16 reads two consecutive registers as a big-endian value.
func (d *Device) ReadUint16(ctx context.Context, reg byte) (uint16, error) {
	buf, err := d.read(ctx, reg, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// WriteUint16 stores the high byte of value in reg and the low byte in reg+1,
// one frame each.
func (d *Device) WriteUint16(ctx context.Context, reg byte, value uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], value)
	if err := d.Write(ctx, reg, out[0]); err != nil {
		return err
	}
	return d.Write(ctx, reg+1, out[1])
}

func (d *Device) read(ctx context.Context, reg byte, n int) ([]byte, error) {
	if n < 1 || n > ScratchSize {
		return nil, d.wrap("read", reg, fmt.Errorf("%w: %d (max %d)", ErrInvalidLength, n, ScratchSize))
	}
	clear(d.scratch[:])
	err := d.call(ctx, func(ctx context.Context) error {
		return d.transport.WriteToAddr(ctx, d.addr, []byte{reg})
	})
	if err != nil {
		return nil, d.wrap("set cursor at", reg, err)
	}
	if err := d.settle(ctx); err != nil {
		return nil, d.wrap("read", reg, err)
	}
	// a call abandoned on timeout may still fill buf later, never the scratch
	buf := make([]byte, n)
	err = d.call(ctx, func(ctx context.Context) error {
		return d.transport.ReadFromAddr(ctx, d.addr, buf)
	})
	if err != nil {
		return nil, d.wrap("read", reg, err)
	}
	copy(d.scratch[:n], buf)
	if snsctx.IsVerbose(ctx) {
		slog.Debug("register read", "addr", fmt.Sprintf("0x%02x", d.addr), "reg", fmt.Sprintf("0x%02x", reg), "data", fmt.Sprintf("% x", d.scratch[:n]))
	}
	if err := d.settle(ctx); err != nil {
		return nil, d.wrap("read", reg, err)
	}
	return d.scratch[:n], nil
}

// call runs a single transport operation bounded by the configured timeout.
// Blocking transports cannot be interrupted, so on expiry the operation is
// left to finish in the background. No further transfer starts until it has
// finished: a late cursor frame would otherwise redirect the next read.
func (d *Device) call(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.drain(ctx); err != nil {
		return err
	}
	if d.config.Timeout <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		d.pending = done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", sensors.ErrTimeout, d.config.Timeout)
		}
		return ctx.Err()
	}
}

// drain waits up to one timeout for an abandoned call to finish. While it is
// still running the bus is reported busy.
func (d *Device) drain(ctx context.Context) error {
	if d.pending == nil {
		return nil
	}
	timer := time.NewTimer(d.config.Timeout)
	defer timer.Stop()
	select {
	case err := <-d.pending:
		d.pending = nil
		if err != nil {
			slog.Debug("abandoned register transfer failed", "addr", fmt.Sprintf("0x%02x", d.addr), "err", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: previous transfer still in progress", sensors.ErrBusBusy)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) settle(ctx context.Context) error {
	if d.config.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.config.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) wrap(op string, reg byte, err error) error {
	return &sensors.BusError{Op: op, Addr: d.addr, Register: reg, Err: err}
}
