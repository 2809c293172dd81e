package gpio

import (
	"context"
	"fmt"

	gobotgpio "gobot.io/x/gobot/v2/drivers/gpio"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/lightprox"
)

var _ sensors.DigitalInput = &PeriphPin{}
var _ sensors.DigitalInput = &GobotPin{}

// PeriphPin is a host GPIO line (e.g. a NanoPi header pin) read through
// periph.io.
type PeriphPin struct {
	pin pgpio.PinIn
}

// OpenPeriphPin initializes the host drivers and configures the named pin
// ("GPIO17", "PA6", ...) as an input.
func OpenPeriphPin(name string, pull pgpio.Pull) (*PeriphPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("could not find gpio pin %q", name)
	}
	return NewPeriphPin(pin, pull)
}

func NewPeriphPin(pin pgpio.PinIn, pull pgpio.Pull) (*PeriphPin, error) {
	if err := pin.In(pull, pgpio.NoEdge); err != nil {
		return nil, fmt.Errorf("could not configure %s as input: %w", pin, err)
	}
	return &PeriphPin{pin: pin}, nil
}

func (p *PeriphPin) ReadLevel(ctx context.Context) (sensors.Level, error) {
	if err := ctx.Err(); err != nil {
		return sensors.Low, err
	}
	return sensors.Level(p.pin.Read() == pgpio.High), nil
}

func (p *PeriphPin) String() string {
	return p.pin.String()
}

// GobotPin reads a pin through any gobot adaptor implementing
// gpio.DigitalReader.
type GobotPin struct {
	reader gobotgpio.DigitalReader
	pin    string
}

func NewGobotPin(reader gobotgpio.DigitalReader, pin string) *GobotPin {
	return &GobotPin{reader: reader, pin: pin}
}

func (p *GobotPin) ReadLevel(ctx context.Context) (sensors.Level, error) {
	if err := ctx.Err(); err != nil {
		return sensors.Low, err
	}
	v, err := p.reader.DigitalRead(p.pin)
	if err != nil {
		return sensors.Low, fmt.Errorf("could not read pin %s: %w", p.pin, err)
	}
	return sensors.Level(v != 0), nil
}

func (p *GobotPin) String() string {
	return "gobot:" + p.pin
}
