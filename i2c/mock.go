package i2c

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/lightprox"
)

var _ sensors.I2CBus = &MockRegisterDevice{}

// MockOp identifies the kind of transfer seen by MockRegisterDevice.
type MockOp string

const (
	MockOpWrite MockOp = "write"
	MockOpRead  MockOp = "read"
)

// MockTransaction is one recorded transfer.
type MockTransaction struct {
	Op      MockOp
	Address byte
	Data    []byte
}

// FaultFunc decides whether a transfer should fail. It receives the operation,
// the register the device cursor points at and the number of bytes involved.
// Returning a non-nil error aborts the transfer; for reads returning an error
// wrapping sensors.ErrShortRead simulates a truncated response.
type FaultFunc func(op MockOp, reg byte, n int) error

// WriteHook is called after a register has been stored.
type WriteHook func(m *MockRegisterDevice, reg, value byte)

// MockRegisterDevice is an in-memory register file with an auto-incrementing
// cursor, behaving like a typical byte addressed I2C peripheral:
//
//   - a one byte write moves the cursor,
//   - a longer write moves the cursor to the first byte and stores the rest
//     in consecutive registers,
//   - a read returns consecutive registers from the cursor on.
//
// It can be used to run drivers without any hardware, e.g.:
//
//	dev := NewMockRegisterDevice(0x47)
//	dev.Set(0x3E, 0x52)
//	dev.SetFault(func(op MockOp, reg byte, n int) error {
//		if op == MockOpRead && n > 1 {
//			return fmt.Errorf("%w: got 1 byte", sensors.ErrShortRead)
//		}
//		return nil
//	})
type MockRegisterDevice struct {
	mx      sync.Mutex
	address byte
	regs    [256]byte
	cursor  byte
	fault   FaultFunc
	hook    WriteHook
	log     []MockTransaction
}

func NewMockRegisterDevice(address byte) *MockRegisterDevice {
	return &MockRegisterDevice{address: address}
}

// SetFault installs (or with nil removes) the fault injection function.
func (m *MockRegisterDevice) SetFault(fault FaultFunc) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.fault = fault
}

// OnWrite installs a hook run after every stored register. Hooks run once the
// transfer has released the device, so they may use Set and Get.
func (m *MockRegisterDevice) OnWrite(hook WriteHook) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.hook = hook
}

// Set stores a register value without recording a transaction.
func (m *MockRegisterDevice) Set(reg, value byte) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.regs[reg] = value
}

// Get returns a register value without recording a transaction.
func (m *MockRegisterDevice) Get(reg byte) byte {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.regs[reg]
}

// Transactions returns a copy of the recorded transfers.
func (m *MockRegisterDevice) Transactions() []MockTransaction {
	m.mx.Lock()
	defer m.mx.Unlock()
	res := make([]MockTransaction, len(m.log))
	copy(res, m.log)
	return res
}

// ResetLog drops recorded transfers.
func (m *MockRegisterDevice) ResetLog() {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.log = nil
}

func (m *MockRegisterDevice) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	hook, stored, err := m.store(address, buffer)
	if err != nil {
		return err
	}
	if hook != nil {
		for i, b := range stored {
			hook(m, buffer[0]+byte(i), b)
		}
	}
	return nil
}

func (m *MockRegisterDevice) store(address byte, buffer []byte) (WriteHook, []byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if address != m.address {
		return nil, nil, fmt.Errorf("write to %#x: %w", address, sensors.ErrNotAcknowledged)
	}
	if len(buffer) == 0 {
		return nil, nil, nil
	}
	if m.fault != nil {
		if err := m.fault(MockOpWrite, buffer[0], len(buffer)); err != nil {
			return nil, nil, err
		}
	}
	m.log = append(m.log, MockTransaction{Op: MockOpWrite, Address: address, Data: append([]byte(nil), buffer...)})
	m.cursor = buffer[0]
	for _, b := range buffer[1:] {
		m.regs[m.cursor] = b
		m.cursor++
	}
	return m.hook, buffer[1:], nil
}

func (m *MockRegisterDevice) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if address != m.address {
		return fmt.Errorf("read from %#x: %w", address, sensors.ErrNotAcknowledged)
	}
	if m.fault != nil {
		if err := m.fault(MockOpRead, m.cursor, len(buffer)); err != nil {
			return err
		}
	}
	for i := range buffer {
		buffer[i] = m.regs[m.cursor]
		m.cursor++
	}
	m.log = append(m.log, MockTransaction{Op: MockOpRead, Address: address, Data: append([]byte(nil), buffer...)})
	return nil
}

func (m *MockRegisterDevice) Release(ctx context.Context) error {
	return nil
}
