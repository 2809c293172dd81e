package environment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/lightprox/i2c"
)

func TestBMS33M332_ThresholdRoundTrip(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev, WithTxTimeout(0))
	ctx := context.Background()

	for v := 0; v <= 0xFFFF; v++ {
		if err := s.SetThreshold(ctx, Ambient, High, uint16(v)); err != nil {
			t.Fatalf("set %#04x: %v", v, err)
		}
		got, err := s.Threshold(ctx, Ambient, High)
		if err != nil {
			t.Fatalf("get %#04x: %v", v, err)
		}
		if got != uint16(v) {
			t.Fatalf("expected %#04x, got %#04x", v, got)
		}
		if v%4096 == 0 {
			dev.ResetLog()
		}
	}
}

func TestBMS33M332_ThresholdRegisters(t *testing.T) {
	tests := []struct {
		channel Channel
		bound   Bound
		reg     byte
	}{
		{Proximity, High, 0x06},
		{Proximity, Low, 0x08},
		{Ambient, High, 0x0A},
		{Ambient, Low, 0x0C},
	}
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.channel, tt.bound), func(t *testing.T) {
			dev := newChip()
			s := newTestSensor(dev)
			for _, v := range []uint16{0x0000, 0x00FF, 0xFF00, 0x1234, 0xFFFF} {
				require.NoError(t, s.SetThreshold(ctx, tt.channel, tt.bound, v))
				assert.Equal(t, byte(v>>8), dev.Get(tt.reg), "high byte first")
				assert.Equal(t, byte(v), dev.Get(tt.reg+1))
				got, err := s.Threshold(ctx, tt.channel, tt.bound)
				require.NoError(t, err)
				assert.Equal(t, v, got)
			}
		})
	}
}

func TestBMS33M332_InvalidThreshold(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	err := s.SetThreshold(context.Background(), Channel(5), High, 1)
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = s.Threshold(context.Background(), Ambient, Bound(3))
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Empty(t, dev.Transactions())
}

func TestBMS33M332_DisableInterruptKeepsThresholds(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	ctx := context.Background()

	require.NoError(t, s.EnableInterrupt(ctx, 0x0320, 0x00C8))
	assert.Equal(t, byte(0x03), dev.Get(bmsRegIntCtrl1))
	enabled, err := s.InterruptEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, s.DisableInterrupt(ctx))
	assert.Equal(t, byte(0x00), dev.Get(bmsRegIntCtrl1))
	enabled, err = s.InterruptEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	high, err := s.Threshold(ctx, Proximity, High)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0320), high)
	low, err := s.Threshold(ctx, Proximity, Low)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x00C8), low)
}

func TestBMS33M332_EnableInterruptWritesThresholdsFirst(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	require.NoError(t, s.EnableInterrupt(context.Background(), 0xABCD, 0x1234))

	var frames [][]byte
	for _, tx := range dev.Transactions() {
		if tx.Op == i2c.MockOpWrite {
			frames = append(frames, tx.Data)
		}
	}
	assert.Equal(t, [][]byte{
		{0x06, 0xAB}, {0x07, 0xCD},
		{0x08, 0x12}, {0x09, 0x34},
		{0x04, 0x03},
	}, frames)
}

func TestBMS33M332_EnableInterruptStopsOnFailure(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	dev.SetFault(func(op i2c.MockOp, reg byte, n int) error {
		if op == i2c.MockOpWrite && reg == bmsRegPSThdLow {
			return fmt.Errorf("nack")
		}
		return nil
	})
	assert.Error(t, s.EnableInterrupt(context.Background(), 10, 5))
	assert.Equal(t, byte(0x00), dev.Get(bmsRegIntCtrl1), "interrupt must stay off")
}

func TestBMS33M332_Persistence(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	ctx := context.Background()

	require.NoError(t, s.SetProximityPersistence(ctx, ProximityPersistenceX16, true))
	assert.Equal(t, byte(0x08), dev.Get(bmsRegState))
	assert.Equal(t, byte(0xC0), dev.Get(bmsRegPSCtrl))

	require.NoError(t, s.SetAmbientPersistence(ctx, AmbientPersistenceX2, true))
	assert.Equal(t, byte(0x40), dev.Get(bmsRegALSCtrl))

	// disabling only clears the shared enable bit
	require.NoError(t, s.SetAmbientPersistence(ctx, AmbientPersistenceX8, false))
	assert.Equal(t, byte(0x00), dev.Get(bmsRegState))
	assert.Equal(t, byte(0x40), dev.Get(bmsRegALSCtrl))
	assert.Equal(t, byte(0xC0), dev.Get(bmsRegPSCtrl))
}

func TestBMS33M332_MeasureInterval(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	ctx := context.Background()

	require.NoError(t, s.SetMeasureIntervalTime(ctx, 0x0B, true))
	assert.Equal(t, byte(0x04), dev.Get(bmsRegState))
	code, err := s.MeasureIntervalTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0x0B), code)

	require.NoError(t, s.SetMeasureIntervalTime(ctx, 0x20, false))
	assert.Equal(t, byte(0x00), dev.Get(bmsRegState))
	assert.Equal(t, byte(0x0B), dev.Get(bmsRegWait), "disabling leaves the wait register alone")

	assert.Equal(t, 1540*time.Microsecond, WaitPeriod(0))
	assert.Equal(t, 12*1540*time.Microsecond, WaitPeriod(0x0B))
}

func TestBMS33M332_LEDCurrent(t *testing.T) {
	dev := newChip()
	dev.Set(bmsRegLEDCtrl, 0x1F)
	s := newTestSensor(dev)
	ctx := context.Background()

	for c := LEDCurrent3125uA; c <= LEDCurrent150mA; c++ {
		require.NoError(t, s.SetLEDCurrent(ctx, c))
		assert.Equal(t, byte(c)<<5|0x1F, dev.Get(bmsRegLEDCtrl))
		got, err := s.LEDCurrent(ctx)
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	assert.ErrorIs(t, s.SetLEDCurrent(ctx, LEDCurrent(7)), ErrInvalidCode)
	assert.Equal(t, 150.0, LEDCurrent150mA.Milliamps())
	assert.Equal(t, 3.125, LEDCurrent3125uA.Milliamps())
}

func TestBMS33M332_ProximityFields(t *testing.T) {
	dev := newChip()
	s := newTestSensor(dev)
	ctx := context.Background()

	require.NoError(t, s.SetProximityGain(ctx, ProximityGainX4))
	require.NoError(t, s.SetProximityIntegrationTime(ctx, ProximityIntegration6140us))
	assert.Equal(t, byte(0x26), dev.Get(bmsRegPSCtrl))
	require.NoError(t, s.SetClearChannelGain(ctx, ClearChannelGainX64))
	assert.Equal(t, byte(0x30), dev.Get(bmsRegALSCtrl2))
	require.NoError(t, s.SetProximityOffset(ctx, 0xBEEF))
	assert.Equal(t, byte(0xBE), dev.Get(bmsRegPSOffset))
	assert.Equal(t, byte(0xEF), dev.Get(bmsRegPSOffset+1))
}

func TestBMS33M332_Flags(t *testing.T) {
	dev := newChip()
	dev.Set(bmsRegFlag, 0b1101_0101)
	s := newTestSensor(dev)
	ctx := context.Background()

	flags, err := s.Flags(ctx)
	require.NoError(t, err)
	assert.True(t, flags.Has(FlagALSDataReady))
	assert.True(t, flags.Has(FlagPSDataReady))
	assert.False(t, flags.Has(FlagALSInt))
	assert.True(t, flags.Has(FlagPSInt))
	assert.True(t, flags.Has(FlagALSSaturated))
	assert.False(t, flags.Near())
	assert.Equal(t, "[far als_saturated ps_int ps_data_ready als_data_ready]", flags.String())

	require.NoError(t, s.ClearFlag(ctx, FlagPSInt))
	assert.Equal(t, byte(0b1100_0101), dev.Get(bmsRegFlag))
	assert.ErrorIs(t, s.ClearFlag(ctx, Flag(3)), ErrInvalidCode)
}
