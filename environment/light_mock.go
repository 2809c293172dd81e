package environment

import (
	"context"

	"github.com/mklimuk/lightprox/i2c"
)

// AmbientProximitySensor is the measurement surface shared by BMS33M332 and
// MockAmbientProximitySensor.
type AmbientProximitySensor interface {
	ReadAmbient(ctx context.Context) (float64, error)
	ReadRawProximity(ctx context.Context) (uint16, error)
	ObjectNear(ctx context.Context) (bool, error)
}

var _ AmbientProximitySensor = &BMS33M332{}
var _ AmbientProximitySensor = &MockAmbientProximitySensor{}

// AmbientBehaviorFunc returns an illuminance in lux or an error.
type AmbientBehaviorFunc func(ctx context.Context) (float64, error)

// ProximityBehaviorFunc returns a raw proximity count or an error.
type ProximityBehaviorFunc func(ctx context.Context) (uint16, error)

// MockAmbientProximitySensor produces readings from behavior functions
// without requiring any hardware. ObjectNear reports true once the proximity
// count exceeds NearAbove.
//
// Example usage:
//
//	// Static values
//	sensor := NewMockAmbientProximitySensor(
//		func(ctx context.Context) (float64, error) { return 320.5, nil },
//		func(ctx context.Context) (uint16, error) { return 12, nil },
//	)
//
//	// Error simulation
//	sensor := NewMockAmbientProximitySensor(
//		func(ctx context.Context) (float64, error) { return 0, sensors.ErrNotAcknowledged },
//		nil,
//	)
type MockAmbientProximitySensor struct {
	ambient   AmbientBehaviorFunc
	proximity ProximityBehaviorFunc
	NearAbove uint16
}

// NewMockAmbientProximitySensor creates a mock from two behavior functions;
// a nil function reads as zero.
func NewMockAmbientProximitySensor(ambient AmbientBehaviorFunc, proximity ProximityBehaviorFunc) *MockAmbientProximitySensor {
	return &MockAmbientProximitySensor{
		ambient:   ambient,
		proximity: proximity,
		NearAbove: 1000,
	}
}

func (m *MockAmbientProximitySensor) ReadAmbient(ctx context.Context) (float64, error) {
	if m.ambient == nil {
		return 0, nil
	}
	return m.ambient(ctx)
}

func (m *MockAmbientProximitySensor) ReadRawProximity(ctx context.Context) (uint16, error) {
	if m.proximity == nil {
		return 0, nil
	}
	return m.proximity(ctx)
}

func (m *MockAmbientProximitySensor) ObjectNear(ctx context.Context) (bool, error) {
	count, err := m.ReadRawProximity(ctx)
	if err != nil {
		return false, err
	}
	return count > m.NearAbove, nil
}

// NewSimulatedBMS33M332 returns a register file behaving like a freshly
// powered BMS33M332: everything zero except the product id and the far flag.
// A soft reset command restores that state.
func NewSimulatedBMS33M332() *i2c.MockRegisterDevice {
	dev := i2c.NewMockRegisterDevice(BMS33M332DefaultAddr)
	powerOnBMS33M332(dev)
	dev.OnWrite(func(m *i2c.MockRegisterDevice, reg, value byte) {
		if reg == bmsRegSoftReset && value == bms33m332ResetCommand {
			powerOnBMS33M332(m)
		}
	})
	return dev
}

// SetSimulatedCounts loads raw proximity and ambient counts into a simulated
// chip. The near flag follows the proximity high threshold.
func SetSimulatedCounts(dev *i2c.MockRegisterDevice, proximity, ambient uint16) {
	dev.Set(bmsRegPSData, byte(proximity>>8))
	dev.Set(bmsRegPSData+1, byte(proximity))
	dev.Set(bmsRegALSData, byte(ambient>>8))
	dev.Set(bmsRegALSData+1, byte(ambient))
	high := uint16(dev.Get(bmsRegPSThdHigh))<<8 | uint16(dev.Get(bmsRegPSThdHigh+1))
	flag := dev.Get(bmsRegFlag) | 1<<FlagNearFar
	if high != 0 && proximity > high {
		flag &^= 1 << FlagNearFar
	}
	dev.Set(bmsRegFlag, flag)
}

func powerOnBMS33M332(m *i2c.MockRegisterDevice) {
	for reg := 0; reg < 256; reg++ {
		m.Set(byte(reg), 0x00)
	}
	m.Set(bmsRegProductID, BMS33M332ProductID)
	m.Set(bmsRegFlag, 0x01)
}
