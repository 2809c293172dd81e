package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/lightprox"
)

const DefaultMCP23017Address = 0x21

// Port is one of two 8 bit I/O ports of the expander.
type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

type registry int

const (
	IODIR registry = iota
	GPPU
	GPIO
	IOCON
)

// register addresses per IOCON.BANK setting, then per port
var bankAddr = [2][2]map[registry]byte{
	{
		{IODIR: 0x00, GPPU: 0x0C, GPIO: 0x12, IOCON: 0x0A},
		{IODIR: 0x01, GPPU: 0x0D, GPIO: 0x13, IOCON: 0x0B},
	},
	{
		{IODIR: 0x00, GPPU: 0x06, GPIO: 0x09, IOCON: 0x05},
		{IODIR: 0x10, GPPU: 0x16, GPIO: 0x19, IOCON: 0x15},
	},
}

var ErrInvalidPin = errors.New("invalid expander pin")

type MCP23017Opts struct {
	Address    byte
	Bank       int
	RetryLimit int
}

type MCP23017Opt func(*MCP23017Opts)

func WithMCP23017Address(address byte) MCP23017Opt {
	return func(o *MCP23017Opts) {
		o.Address = address
	}
}

// WithBank selects the register layout matching IOCON.BANK (0 after power-on).
func WithBank(bank int) MCP23017Opt {
	return func(o *MCP23017Opts) {
		o.Bank = bank
	}
}

// WithRetryLimit sets how many times a transfer is attempted while the bus
// reports sensors.ErrBusBusy.
func WithRetryLimit(limit int) MCP23017Opt {
	return func(o *MCP23017Opts) {
		o.RetryLimit = limit
	}
}

/*
	Steps to read an input:

1. Set the pin bit in IODIR (1 = input)
2. Optionally enable the pull-up in GPPU
3. Read the GPIO port register
*/
type MCP23017 struct {
	mx        sync.Mutex
	transport sensors.I2CBus
	config    MCP23017Opts
}

func NewMCP23017(bus sensors.I2CBus, opts ...MCP23017Opt) *MCP23017 {
	config := MCP23017Opts{
		Address:    DefaultMCP23017Address,
		RetryLimit: 1,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Bank != 1 {
		config.Bank = 0
	}
	if config.RetryLimit < 1 {
		config.RetryLimit = 1
	}
	return &MCP23017{transport: bus, config: config}
}

func (m *MCP23017) reg(port Port, r registry) byte {
	return bankAddr[m.config.Bank][port&1][r]
}

// ConfigureInput makes pin of port an input, optionally with the internal
// 100k pull-up (needed for open-drain interrupt lines).
func (m *MCP23017) ConfigureInput(ctx context.Context, port Port, pin int, pullUp bool) error {
	if pin < 0 || pin > 7 {
		return fmt.Errorf("%w: %s%d", ErrInvalidPin, port, pin)
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.updateBit(ctx, m.reg(port, IODIR), pin, true); err != nil {
		return fmt.Errorf("could not set direction of gpio %s%d: %w", port, pin, err)
	}
	if err := m.updateBit(ctx, m.reg(port, GPPU), pin, pullUp); err != nil {
		return fmt.Errorf("could not set pull-up of gpio %s%d: %w", port, pin, err)
	}
	return nil
}

// ReadPort reads the levels of all pins of a port.
func (m *MCP23017) ReadPort(ctx context.Context, port Port) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	v, err := m.readRegistry(ctx, m.reg(port, GPIO))
	if err != nil {
		return 0, fmt.Errorf("could not read gpio %s set: %w", port, err)
	}
	return v, nil
}

// ReadSettings reads IOCON.
func (m *MCP23017) ReadSettings(ctx context.Context) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	v, err := m.readRegistry(ctx, m.reg(PortA, IOCON))
	if err != nil {
		return 0, fmt.Errorf("could not read settings: %w", err)
	}
	return v, nil
}

// Pin returns a single expander input usable as an interrupt line.
func (m *MCP23017) Pin(port Port, pin int) *ExpanderPin {
	return &ExpanderPin{expander: m, port: port, pin: pin}
}

func (m *MCP23017) updateBit(ctx context.Context, reg byte, bit int, value bool) error {
	v, err := m.readRegistry(ctx, reg)
	if err != nil {
		return err
	}
	if value {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return m.writeRegistry(ctx, reg, v)
}

func (m *MCP23017) writeRegistry(ctx context.Context, reg, value byte) error {
	return m.retry(ctx, func() error {
		return m.transport.WriteToAddr(ctx, m.config.Address, []byte{reg, value})
	})
}

func (m *MCP23017) readRegistry(ctx context.Context, reg byte) (byte, error) {
	buf := make([]byte, 1)
	err := m.retry(ctx, func() error {
		err := m.transport.WriteToAddr(ctx, m.config.Address, []byte{reg})
		if err != nil {
			return fmt.Errorf("could not set I/O registry address: %w", err)
		}
		return m.transport.ReadFromAddr(ctx, m.config.Address, buf)
	})
	return buf[0], err
}

func (m *MCP23017) retry(ctx context.Context, op func() error) error {
	var err error
	for i := m.config.RetryLimit; i > 0; i-- {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, sensors.ErrBusBusy) {
			return err
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return fmt.Errorf("retry limit reached: %w", err)
}

var _ sensors.DigitalInput = &ExpanderPin{}

// ExpanderPin is one input of an MCP23017.
type ExpanderPin struct {
	expander *MCP23017
	port     Port
	pin      int
}

func (p *ExpanderPin) ReadLevel(ctx context.Context) (sensors.Level, error) {
	if p.pin < 0 || p.pin > 7 {
		return sensors.Low, fmt.Errorf("%w: %s%d", ErrInvalidPin, p.port, p.pin)
	}
	v, err := p.expander.ReadPort(ctx, p.port)
	if err != nil {
		return sensors.Low, err
	}
	return sensors.Level(v&(1<<p.pin) != 0), nil
}

func (p *ExpanderPin) String() string {
	return fmt.Sprintf("MCP23017(%#x).GP%s%d", p.expander.config.Address, p.port, p.pin)
}
