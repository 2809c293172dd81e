package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/lightprox/environment"
)

func testContext(t *testing.T, values map[string]string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, name := range []string{"adapter", "device", "addr", "profile", "als-gain", "als-integration", "ps-gain", "led-current"} {
		set.String(name, values[name], "")
	}
	c := cli.NewContext(cli.NewApp(), set, nil)
	c.Context = context.Background()
	return c
}

func TestParseByte(t *testing.T) {
	v, err := parseByte("0x47")
	require.NoError(t, err)
	assert.Equal(t, byte(0x47), v)
	v, err = parseByte("16")
	require.NoError(t, err)
	assert.Equal(t, byte(16), v)
	_, err = parseByte("0x147")
	assert.Error(t, err)

	w, err := parseUint16("0xFFFF")
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), w)
}

func TestOpenHardware_Mock(t *testing.T) {
	c := testContext(t, map[string]string{"adapter": "mock", "addr": "0x47"})
	hw, err := openHardware(c)
	require.NoError(t, err)
	defer hw.Close()

	s := environment.NewBMS33M332(hw.bus, environment.WithSettleDelay(0))
	require.NoError(t, s.Begin(c.Context))
	lux, err := s.ReadAmbient(c.Context)
	require.NoError(t, err)
	assert.InDelta(t, 2400*0.2051, lux, 1e-9)
}

func TestOpenHardware_Unknown(t *testing.T) {
	_, err := openHardware(testContext(t, map[string]string{"adapter": "serial"}))
	assert.Error(t, err)
	_, err = openHardware(testContext(t, map[string]string{"adapter": "mcp2221", "device": "first"}))
	assert.Error(t, err)
}

func TestOpenPin_Invalid(t *testing.T) {
	c := testContext(t, map[string]string{"adapter": "mock"})
	hw, err := openHardware(c)
	require.NoError(t, err)
	for _, desc := range []string{"GPIO17", "nanopi:7", "mcp23017:0x21", "mcp2221:GPx", "uart:1"} {
		_, err := hw.openPin(c, desc)
		assert.Error(t, err, desc)
	}
	// nothing answers at the expander address on the simulated bus
	_, err = hw.openPin(c, "mcp23017:0x21:A3")
	assert.Error(t, err)

	pin, err := hw.openPin(c, "mcp2221:GP1")
	require.NoError(t, err)
	assert.Equal(t, "MCP2221.GP1", pin.(interface{ String() string }).String())
}

func TestProfileFromFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ambient:\n  gain: x16\n"), 0o600))

	profile, err := profileFromFlags(testContext(t, map[string]string{
		"profile":         path,
		"als-integration": "400ms",
		"led-current":     "50mA",
	}))
	require.NoError(t, err)
	assert.Equal(t, environment.AmbientGainX16, profile.Ambient.Gain)
	assert.Equal(t, environment.AmbientIntegration400ms, profile.Ambient.IntegrationTime)
	assert.Equal(t, environment.LEDCurrent50mA, profile.LEDCurrent)
	assert.Equal(t, environment.DefaultProfile().Proximity, profile.Proximity)

	_, err = profileFromFlags(testContext(t, map[string]string{"ps-gain": "x64"}))
	assert.Error(t, err)
}
