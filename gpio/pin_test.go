package gpio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/mklimuk/lightprox"
)

func TestPeriphPin_ReadLevel(t *testing.T) {
	raw := &gpiotest.Pin{N: "INT", Num: 17}
	pin, err := NewPeriphPin(raw, pgpio.PullUp)
	require.NoError(t, err)
	assert.Equal(t, pgpio.PullUp, raw.P)
	ctx := context.Background()

	raw.L = pgpio.High
	level, err := pin.ReadLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sensors.High, level)

	raw.L = pgpio.Low
	level, err = pin.ReadLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sensors.Low, level)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = pin.ReadLevel(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeDigitalReader struct {
	values map[string]int
	err    error
}

func (f *fakeDigitalReader) DigitalRead(pin string) (int, error) {
	return f.values[pin], f.err
}

func TestGobotPin_ReadLevel(t *testing.T) {
	reader := &fakeDigitalReader{values: map[string]int{"7": 1, "11": 0}}
	ctx := context.Background()

	level, err := NewGobotPin(reader, "7").ReadLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sensors.High, level)

	level, err = NewGobotPin(reader, "11").ReadLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sensors.Low, level)

	reader.err = errors.New("sysfs failure")
	_, err = NewGobotPin(reader, "7").ReadLevel(ctx)
	assert.Error(t, err)
}
