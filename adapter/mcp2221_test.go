package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/lightprox"
)

// fakeHID answers each report with the response produced by reply.
type fakeHID struct {
	requests [][]byte
	reply    func(req []byte) []byte
	opened   int
	closed   int
}

func (f *fakeHID) Write(b []byte) (int, error) {
	f.requests = append(f.requests, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeHID) Read(b []byte) (int, error) {
	res := make([]byte, reportSize)
	if f.reply != nil {
		copy(res, f.reply(f.requests[len(f.requests)-1]))
	}
	return copy(b, res), nil
}

func (f *fakeHID) Close() error {
	f.closed++
	return nil
}

func newTestAdapter(dev *fakeHID) *MCP2221 {
	return NewMCP2221(
		WithResponseWait(0),
		WithOpener(func(int) (HIDDevice, error) {
			dev.opened++
			return dev, nil
		}),
	)
}

func TestMCP2221_WriteToAddr(t *testing.T) {
	dev := &fakeHID{}
	a := newTestAdapter(dev)
	require.NoError(t, a.WriteToAddr(context.Background(), 0x47, []byte{0x80, 0x55}))
	require.Len(t, dev.requests, 1)
	req := dev.requests[0]
	assert.Equal(t, []byte{0x90, 0x02, 0x00, 0x8E, 0x80, 0x55}, req[:6])
	assert.Equal(t, 1, dev.closed)
}

func TestMCP2221_WriteBusy(t *testing.T) {
	dev := &fakeHID{reply: func(req []byte) []byte { return []byte{req[0], 0x01} }}
	err := newTestAdapter(dev).WriteToAddr(context.Background(), 0x47, []byte{0x00})
	assert.ErrorIs(t, err, sensors.ErrBusBusy)
}

func TestMCP2221_ReadFromAddr(t *testing.T) {
	tests := map[string]struct {
		data   []byte
		status byte
		size   byte
		want   error
	}{
		"ok":             {data: []byte{0x12, 0x34}, size: 2},
		"not acked":      {status: 0x41, want: sensors.ErrNotAcknowledged},
		"short":          {data: []byte{0x12}, size: 1, want: sensors.ErrShortRead},
		"invalid length": {size: 127, want: sensors.ErrShortRead},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dev := &fakeHID{reply: func(req []byte) []byte {
				if req[0] != 0x40 {
					return []byte{req[0], 0x00}
				}
				return append([]byte{0x40, tc.status, 0x00, tc.size}, tc.data...)
			}}
			buf := make([]byte, 2)
			err := newTestAdapter(dev).ReadFromAddr(context.Background(), 0x47, buf)
			require.Len(t, dev.requests, 2)
			assert.Equal(t, []byte{0x91, 0x02, 0x00, 0x8F}, dev.requests[0][:4])
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.data, buf)
		})
	}
}

func TestMCP2221_OpenFailure(t *testing.T) {
	a := NewMCP2221(WithOpener(func(int) (HIDDevice, error) { return nil, ErrDeviceNotFound }))
	err := a.WriteToAddr(context.Background(), 0x47, []byte{0x00})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestMCP2221_CancelledWhileWaiting(t *testing.T) {
	dev := &fakeHID{}
	a := NewMCP2221(WithResponseWait(time.Hour), WithOpener(func(int) (HIDDevice, error) { return dev, nil }))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := a.WriteToAddr(ctx, 0x47, []byte{0x00})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, dev.closed)
}

func TestMCP2221_ReleaseBus(t *testing.T) {
	dev := &fakeHID{reply: func(req []byte) []byte {
		res := make([]byte, reportSize)
		res[0] = req[0]
		res[9], res[10] = 0x02, 0x00
		res[11], res[12] = 0x01, 0x00
		res[16], res[17] = 0x8e, 0x00
		return res
	}}
	status, err := newTestAdapter(dev).ReleaseBus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), dev.requests[0][0])
	assert.Equal(t, byte(0x10), dev.requests[0][2])
	assert.Equal(t, uint16(2), status.LastWriteRequestedSize)
	assert.Equal(t, uint16(1), status.LastWriteSentSize)
	assert.Equal(t, "8e00", status.CurrentAddress)
}

func TestMCP2221_GPIOParameters(t *testing.T) {
	dev := &fakeHID{reply: func(req []byte) []byte {
		return []byte{req[0], 0x00, 0x00, 0x00, 0x08, 0x01, 0x00, 0x0A}
	}}
	a := newTestAdapter(dev)
	params, err := a.GetGPIOParameters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [4]GPIOMode{GPIOModeIn, GPIOModeOut, GPIOModeOut, GPIOModeIn}, params.Modes)
	assert.Equal(t, [4]GPIODesignation{GPIOOperation, GPIO0LedUartRx, GPIOOperation, GPIO3ADC3}, params.Designations)

	require.NoError(t, a.SetGPIOParameters(context.Background(), params))
	assert.Equal(t, []byte{0xB1, 0x01, 0x08, 0x01, 0x00, 0x0A}, dev.requests[1][:6])
}

func TestMCP2221Pin_ReadLevel(t *testing.T) {
	values := []byte{0x51, 0x00, 0x01, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0xEF}
	dev := &fakeHID{reply: func([]byte) []byte { return values }}
	a := newTestAdapter(dev)
	ctx := context.Background()

	level, err := a.Pin(0).ReadLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sensors.High, level)

	level, err = a.Pin(1).ReadLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, sensors.Low, level)

	_, err = a.Pin(3).ReadLevel(ctx)
	assert.Error(t, err)
	_, err = a.Pin(4).ReadLevel(ctx)
	assert.Error(t, err)
	assert.Equal(t, "MCP2221.GP2", a.Pin(2).String())
}
