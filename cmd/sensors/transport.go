package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	pgpio "periph.io/x/conn/v3/gpio"

	"github.com/mklimuk/lightprox"
	"github.com/mklimuk/lightprox/adapter"
	"github.com/mklimuk/lightprox/environment"
	"github.com/mklimuk/lightprox/gpio"
	"github.com/mklimuk/lightprox/i2c"
)

var adapterFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Usage:   "bus adapter: mcp2221, periph, nanopi or mock",
		Value:   "mcp2221",
		EnvVars: []string{"SENSORS_ADAPTER"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"d"},
		Usage:   "adapter index (mcp2221), bus name (periph) or bus number (nanopi)",
		EnvVars: []string{"SENSORS_DEVICE"},
	},
}

// hardware is an opened bus together with the adaptors it came from, so
// interrupt pins can be taken from the same device.
type hardware struct {
	bus     sensors.I2CBus
	mcp     *adapter.MCP2221
	npi     *nanopi.Adaptor
	closers []func() error
}

func (h *hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	return errors.Join(errs...)
}

func openHardware(c *cli.Context) (*hardware, error) {
	device := c.String("device")
	switch name := c.String("adapter"); name {
	case "mcp2221":
		index := -1
		if device != "" {
			var err error
			if index, err = strconv.Atoi(device); err != nil {
				return nil, fmt.Errorf("invalid adapter index %q: %w", device, err)
			}
		}
		mcp := adapter.NewMCP2221(adapter.WithDeviceIndex(index))
		return &hardware{bus: mcp, mcp: mcp}, nil
	case "periph":
		bus, err := i2c.NewGenericBus(device)
		if err != nil {
			return nil, err
		}
		return &hardware{bus: bus, closers: []func() error{bus.Close}}, nil
	case "nanopi":
		busNr := -1
		if device != "" {
			var err error
			if busNr, err = strconv.Atoi(device); err != nil {
				return nil, fmt.Errorf("invalid bus number %q: %w", device, err)
			}
		}
		npi := nanopi.NewNeoAdaptor()
		if err := npi.Connect(); err != nil {
			return nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		bus := i2c.NewGobotBus(npi, busNr)
		return &hardware{bus: bus, npi: npi, closers: []func() error{npi.Finalize, bus.Close}}, nil
	case "mock":
		dev := environment.NewSimulatedBMS33M332()
		environment.SetSimulatedCounts(dev, 120, 2400)
		return &hardware{bus: dev}, nil
	default:
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
}

// openPin resolves an interrupt line description:
//
//	mcp2221:<gp>                 GP pin of an MCP2221
//	periph:<name>                host pin, e.g. periph:GPIO17
//	nanopi:<pin>                 NanoPi header pin, requires the nanopi adapter
//	mcp23017:<addr>:<port><pin>  expander input on the sensor bus, e.g. mcp23017:0x21:A3
func (h *hardware) openPin(c *cli.Context, desc string) (sensors.DigitalInput, error) {
	kind, arg, ok := strings.Cut(desc, ":")
	if !ok {
		return nil, fmt.Errorf("invalid pin %q", desc)
	}
	switch kind {
	case "mcp2221":
		gp, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(arg), "GP"))
		if err != nil {
			return nil, fmt.Errorf("invalid GP pin %q: %w", arg, err)
		}
		mcp := h.mcp
		if mcp == nil {
			mcp = adapter.NewMCP2221()
		}
		return mcp.Pin(gp), nil
	case "periph":
		return gpio.OpenPeriphPin(arg, pgpio.PullUp)
	case "nanopi":
		if h.npi == nil {
			return nil, errors.New("nanopi pins require the nanopi adapter")
		}
		return gpio.NewGobotPin(h.npi, arg), nil
	case "mcp23017":
		addrStr, pinStr, ok := strings.Cut(arg, ":")
		if !ok || len(pinStr) < 2 {
			return nil, fmt.Errorf("invalid expander pin %q", arg)
		}
		addr, err := parseByte(addrStr)
		if err != nil {
			return nil, err
		}
		port := gpio.PortA
		if strings.EqualFold(pinStr[:1], "B") {
			port = gpio.PortB
		}
		pin, err := strconv.Atoi(pinStr[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid expander pin %q: %w", pinStr, err)
		}
		exp := gpio.NewMCP23017(h.bus, gpio.WithMCP23017Address(addr), gpio.WithRetryLimit(3))
		if err := exp.ConfigureInput(c.Context, port, pin, true); err != nil {
			return nil, err
		}
		return exp.Pin(port, pin), nil
	default:
		return nil, fmt.Errorf("unknown pin source %q", kind)
	}
}

// parseByte accepts decimal or 0x prefixed hex.
func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte value %q: %w", s, err)
	}
	return byte(v), nil
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid 16 bit value %q: %w", s, err)
	}
	return uint16(v), nil
}
