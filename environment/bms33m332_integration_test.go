//go:build integration

package environment

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/lightprox/adapter"
	"github.com/mklimuk/lightprox/i2c"
)

// hardwareSensor connects to a real chip through SENSORS_ADAPTER (mcp2221 or
// periph) and SENSORS_DEVICE.
func hardwareSensor(t *testing.T) *BMS33M332 {
	t.Helper()
	switch os.Getenv("SENSORS_ADAPTER") {
	case "periph":
		bus, err := i2c.NewGenericBus(os.Getenv("SENSORS_DEVICE"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = bus.Close() })
		return NewBMS33M332(bus)
	case "mcp2221":
		return NewBMS33M332(adapter.NewMCP2221())
	default:
		t.Skip("SENSORS_ADAPTER not set")
		return nil
	}
}

func TestHardware_BeginAndRead(t *testing.T) {
	s := hardwareSensor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, s.Begin(ctx))
	// first conversion takes one integration period
	time.Sleep(2 * AmbientIntegration100ms.Duration())
	lux, err := s.ReadAmbient(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lux, 0.0)
	require.NoError(t, s.VerifyCalibration(ctx))

	require.NoError(t, s.SetThreshold(ctx, Proximity, High, 0x1234))
	v, err := s.Threshold(ctx, Proximity, High)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)

	require.NoError(t, s.Reset(ctx))
	assert.Equal(t, Configured, s.State())
}
