package environment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/lightprox"
	"github.com/mklimuk/lightprox/i2c"
)

func TestAmbientMultipliers(t *testing.T) {
	assert.Equal(t, 1, AmbientGainX1.Multiplier())
	assert.Equal(t, 4, AmbientGainX4.Multiplier())
	assert.Equal(t, 16, AmbientGainX16.Multiplier())
	assert.Equal(t, 64, AmbientGainX64.Multiplier())
	assert.Equal(t, 1, AmbientGain(9).Multiplier(), "unknown gain codes count as x1")

	for code := 0; code <= 6; code++ {
		assert.Equal(t, 1<<code, AmbientIntegrationTime(code).Multiplier())
	}
	for _, code := range []int{7, 8, 15, 255} {
		assert.Equal(t, 4, AmbientIntegrationTime(code).Multiplier(), "code %d", code)
	}
	assert.Equal(t, 1600*time.Millisecond, AmbientIntegration1600ms.Duration())
}

func TestBMS33M332_ComputeAmbientLux(t *testing.T) {
	gains := []AmbientGain{AmbientGainX1, AmbientGainX4, AmbientGainX16, AmbientGainX64}
	integrations := []AmbientIntegrationTime{0, 1, 2, 3, 4, 5, 6, 9}
	ctx := context.Background()
	for _, gain := range gains {
		for _, it := range integrations {
			t.Run(fmt.Sprintf("%s/%d", gain, it), func(t *testing.T) {
				s := newTestSensor(newChip())
				require.NoError(t, s.SetAmbientGain(ctx, gain))
				require.NoError(t, s.SetAmbientIntegrationTime(ctx, it))
				for _, raw := range []uint16{0, 1, 517, 0xFFFF} {
					expected := float64(raw) * 0.8204 / float64(it.Multiplier()) / float64(gain.Multiplier())
					assert.InDelta(t, expected, s.ComputeAmbientLux(raw), 1e-9)
				}
			})
		}
	}
}

func TestBMS33M332_GainBitsLeaveRestOfRegister(t *testing.T) {
	tests := []struct {
		gain AmbientGain
		bits byte
	}{
		{AmbientGainX1, 0b00},
		{AmbientGainX4, 0b01},
		{AmbientGainX16, 0b10},
		{AmbientGainX64, 0b11},
	}
	for _, prior := range []byte{0x00, 0xFF, 0b1100_0101, 0b0011_1010} {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%08b/%s", prior, tt.gain), func(t *testing.T) {
				dev := newChip()
				dev.Set(bmsRegALSCtrl, prior)
				s := newTestSensor(dev)
				require.NoError(t, s.SetAmbientGain(context.Background(), tt.gain))
				got := dev.Get(bmsRegALSCtrl)
				assert.Equal(t, tt.bits, (got>>4)&0x03)
				assert.Equal(t, prior&^0x30, got&^0x30, "bits outside the gain field changed")
			})
		}
	}
}

func TestBMS33M332_IntegrationBitsLeaveRestOfRegister(t *testing.T) {
	dev := newChip()
	dev.Set(bmsRegALSCtrl, 0b1011_0000)
	s := newTestSensor(dev)
	require.NoError(t, s.SetAmbientIntegrationTime(context.Background(), AmbientIntegration800ms))
	assert.Equal(t, byte(0b1011_0101), dev.Get(bmsRegALSCtrl))
}

func TestBMS33M332_FailedGainWriteKeepsCalibration(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	dev.Set(bmsRegALSData+1, 10)

	writes := 0
	dev.SetFault(func(op i2c.MockOp, reg byte, n int) error {
		if op == i2c.MockOpWrite && reg == bmsRegALSCtrl && n == 2 {
			writes++
			if writes == 2 {
				return sensors.ErrNotAcknowledged
			}
		}
		return nil
	})
	err := s.SetAmbientGain(ctx, AmbientGainX64)
	assert.ErrorIs(t, err, sensors.ErrNotAcknowledged)
	assert.Equal(t, byte(0x12), dev.Get(bmsRegALSCtrl), "first gain bit landed")
	assert.InDelta(t, 0.2051, s.Lsb(), 1e-12, "lsb follows the last successful write only")
	assert.InDelta(t, 10*0.2051, s.ComputeAmbientLux(10), 1e-9, "conversion is not guarded")
	gain, it, synced := s.AmbientCalibration()
	assert.Equal(t, AmbientGainX1, gain)
	assert.Equal(t, AmbientIntegration100ms, it)
	assert.False(t, synced)

	_, err = s.ReadAmbient(ctx)
	assert.ErrorIs(t, err, ErrCalibrationInconsistency)
	assert.ErrorIs(t, s.VerifyCalibration(ctx), ErrCalibrationInconsistency)

	dev.SetFault(nil)
	require.NoError(t, s.SetAmbientGain(ctx, AmbientGainX64))
	lux, err := s.ReadAmbient(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10*0.8204/4/64, lux, 1e-9)
}

func TestBMS33M332_FailedIntegrationWriteKeepsCalibration(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))

	dev.SetFault(func(op i2c.MockOp, reg byte, n int) error {
		if op == i2c.MockOpRead {
			return sensors.ErrShortRead
		}
		return nil
	})
	err := s.SetAmbientIntegrationTime(ctx, AmbientIntegration1600ms)
	assert.ErrorIs(t, err, sensors.ErrShortRead)
	assert.Equal(t, byte(0x02), dev.Get(bmsRegALSCtrl), "nothing written after a failed read")
	assert.InDelta(t, 0.2051, s.Lsb(), 1e-12)
	dev.SetFault(nil)

	_, err = s.ReadAmbient(ctx)
	assert.ErrorIs(t, err, ErrCalibrationInconsistency)
	// the register still holds what memory says, reading it back confirms it
	require.NoError(t, s.VerifyCalibration(ctx))
	_, err = s.ReadAmbient(ctx)
	assert.NoError(t, err)
}

func TestBMS33M332_ReadAmbientBeforeBegin(t *testing.T) {
	s := newTestSensor(newChip())
	_, err := s.ReadAmbient(context.Background())
	assert.ErrorIs(t, err, ErrCalibrationInconsistency)
	assert.InDelta(t, 0.2051, s.Lsb(), 1e-12, "in-memory defaults match the default profile")
}

func TestBMS33M332_InvalidCalibrationCodes(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	ctx := context.Background()

	assert.ErrorIs(t, s.SetAmbientGain(ctx, AmbientGain(4)), ErrInvalidCode)
	assert.ErrorIs(t, s.SetAmbientIntegrationTime(ctx, AmbientIntegrationTime(16)), ErrInvalidCode)
	assert.Empty(t, dev.Transactions())
	assert.InDelta(t, 0.2051, s.Lsb(), 1e-12)

	// undocumented integration codes fit the field and convert like 100ms
	require.NoError(t, s.SetAmbientIntegrationTime(ctx, AmbientIntegrationTime(0x0F)))
	assert.Equal(t, byte(0x0F), dev.Get(bmsRegALSCtrl)&0x0F)
	assert.InDelta(t, 0.2051, s.Lsb(), 1e-12)
}
