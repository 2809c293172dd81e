package environment

import (
	"fmt"
	"strings"
	"time"
)

// BMS33M332 (STK3332 based) ambient light and proximity sensor.
const (
	BMS33M332DefaultAddr = 0x47
	BMS33M332ProductID   = 0x52

	bms33m332ResetCommand = 0x55
)

// register map
const (
	bmsRegState       byte = 0x00
	bmsRegPSCtrl      byte = 0x01
	bmsRegALSCtrl     byte = 0x02
	bmsRegLEDCtrl     byte = 0x03
	bmsRegIntCtrl1    byte = 0x04
	bmsRegWait        byte = 0x05
	bmsRegPSThdHigh   byte = 0x06 // 0x06..0x07
	bmsRegPSThdLow    byte = 0x08 // 0x08..0x09
	bmsRegALSThdHigh  byte = 0x0A // 0x0A..0x0B
	bmsRegALSThdLow   byte = 0x0C // 0x0C..0x0D
	bmsRegFlag        byte = 0x10
	bmsRegPSData      byte = 0x11 // 0x11..0x12
	bmsRegALSData     byte = 0x13 // 0x13..0x14
	bmsRegClearData   byte = 0x1B // 0x1B..0x1C
	bmsRegPSOffset    byte = 0x1D // 0x1D..0x1E
	bmsRegCTIR        byte = 0x20 // 0x20..0x23
	bmsRegProductID   byte = 0x3E
	bmsRegReserved    byte = 0x3F
	bmsRegALSCtrl2    byte = 0x4E
	bmsRegIntelliWait byte = 0x4F
	bmsRegSoftReset   byte = 0x80
	bmsRegIntCtrl2    byte = 0xA5
)

// state register bits
const (
	bmsStateEnPS          byte = 0
	bmsStateEnALS         byte = 1
	bmsStateEnWait        byte = 2
	bmsStateEnIntelliPrst byte = 3
	bmsStateEnCTAutoK     byte = 4
)

// bit fields as (lsb, width)
const (
	bmsPSIntegrationLSB, bmsPSIntegrationWidth   byte = 0, 4
	bmsPSGainLSB, bmsPSGainWidth                 byte = 4, 2
	bmsPSPrstLSB, bmsPSPrstWidth                 byte = 6, 2
	bmsALSIntegrationLSB, bmsALSIntegrationWidth byte = 0, 4
	bmsALSGainLSB, bmsALSGainWidth               byte = 4, 2
	bmsALSPrstLSB, bmsALSPrstWidth               byte = 6, 2
	bmsClearGainLSB, bmsClearGainWidth           byte = 4, 2
	bmsLEDCurrentLSB, bmsLEDCurrentWidth         byte = 5, 3
)

// interrupt control: EN_PS_INT | PS_NF_MODE. In near/far mode the INT line
// goes low when the proximity count exceeds the high threshold and back high
// when it drops below the low threshold.
const bmsIntCtrlProximityNearFar byte = 0x03

// wait period is (code+1) * 1.54ms
const bmsWaitStep = 1540 * time.Microsecond

// AmbientGain is the ALS gain code.
type AmbientGain byte

const (
	AmbientGainX1 AmbientGain = iota
	AmbientGainX4
	AmbientGainX16
	AmbientGainX64
)

var ambientGainNames = []string{"x1", "x4", "x16", "x64"}

// Multiplier returns the gain factor; codes outside the table count as x1.
func (g AmbientGain) Multiplier() int {
	switch g {
	case AmbientGainX1:
		return 1
	case AmbientGainX4:
		return 4
	case AmbientGainX16:
		return 16
	case AmbientGainX64:
		return 64
	default:
		return 1
	}
}

func (g AmbientGain) String() string { return codeName(ambientGainNames, byte(g)) }
func (g AmbientGain) MarshalText() ([]byte, error) { return []byte(g.String()), nil }
func (g *AmbientGain) UnmarshalText(b []byte) error { return parseCode(g, ambientGainNames, b) }

// AmbientIntegrationTime is the ALS integration time code.
type AmbientIntegrationTime byte

const (
	AmbientIntegration25ms AmbientIntegrationTime = iota
	AmbientIntegration50ms
	AmbientIntegration100ms
	AmbientIntegration200ms
	AmbientIntegration400ms
	AmbientIntegration800ms
	AmbientIntegration1600ms
)

var ambientIntegrationNames = []string{"25ms", "50ms", "100ms", "200ms", "400ms", "800ms", "1600ms"}

// Multiplier returns 2^code for codes 0..6 and 4 for anything else.
func (it AmbientIntegrationTime) Multiplier() int {
	if it <= AmbientIntegration1600ms {
		return 1 << it
	}
	return 4
}

// Duration returns the nominal integration time.
func (it AmbientIntegrationTime) Duration() time.Duration {
	return time.Duration(it.Multiplier()) * 25 * time.Millisecond
}

func (it AmbientIntegrationTime) String() string { return codeName(ambientIntegrationNames, byte(it)) }
func (it AmbientIntegrationTime) MarshalText() ([]byte, error) {
	return []byte(it.String()), nil
}
func (it *AmbientIntegrationTime) UnmarshalText(b []byte) error {
	return parseCode(it, ambientIntegrationNames, b)
}

// AmbientPersistence is the number of consecutive out of threshold ALS
// samples required to raise an interrupt.
type AmbientPersistence byte

const (
	AmbientPersistenceX1 AmbientPersistence = iota
	AmbientPersistenceX2
	AmbientPersistenceX4
	AmbientPersistenceX8
)

var ambientPersistenceNames = []string{"x1", "x2", "x4", "x8"}

func (p AmbientPersistence) String() string { return codeName(ambientPersistenceNames, byte(p)) }
func (p AmbientPersistence) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
func (p *AmbientPersistence) UnmarshalText(b []byte) error {
	return parseCode(p, ambientPersistenceNames, b)
}

// ClearChannelGain is the clear channel gain code.
type ClearChannelGain byte

const (
	ClearChannelGainX1 ClearChannelGain = iota
	ClearChannelGainX4
	ClearChannelGainX16
	ClearChannelGainX64
)

func (g ClearChannelGain) String() string { return codeName(ambientGainNames, byte(g)) }
func (g ClearChannelGain) MarshalText() ([]byte, error) { return []byte(g.String()), nil }
func (g *ClearChannelGain) UnmarshalText(b []byte) error {
	return parseCode(g, ambientGainNames, b)
}

// ProximityGain is the PS gain code.
type ProximityGain byte

const (
	ProximityGainX1 ProximityGain = iota
	ProximityGainX2
	ProximityGainX4
	ProximityGainX8
)

var proximityGainNames = []string{"x1", "x2", "x4", "x8"}

func (g ProximityGain) String() string { return codeName(proximityGainNames, byte(g)) }
func (g ProximityGain) MarshalText() ([]byte, error) { return []byte(g.String()), nil }
func (g *ProximityGain) UnmarshalText(b []byte) error { return parseCode(g, proximityGainNames, b) }

// ProximityIntegrationTime is the PS integration time code.
type ProximityIntegrationTime byte

const (
	ProximityIntegration96us ProximityIntegrationTime = iota
	ProximityIntegration192us
	ProximityIntegration384us
	ProximityIntegration768us
	ProximityIntegration1540us
	ProximityIntegration3070us
	ProximityIntegration6140us
)

var proximityIntegrationNames = []string{"96us", "192us", "384us", "768us", "1540us", "3070us", "6140us"}

func (it ProximityIntegrationTime) String() string {
	return codeName(proximityIntegrationNames, byte(it))
}
func (it ProximityIntegrationTime) MarshalText() ([]byte, error) {
	return []byte(it.String()), nil
}
func (it *ProximityIntegrationTime) UnmarshalText(b []byte) error {
	return parseCode(it, proximityIntegrationNames, b)
}

// ProximityPersistence is the number of consecutive out of threshold PS
// samples required to raise an interrupt.
type ProximityPersistence byte

const (
	ProximityPersistenceX1 ProximityPersistence = iota
	ProximityPersistenceX2
	ProximityPersistenceX4
	ProximityPersistenceX16
)

var proximityPersistenceNames = []string{"x1", "x2", "x4", "x16"}

func (p ProximityPersistence) String() string {
	return codeName(proximityPersistenceNames, byte(p))
}
func (p ProximityPersistence) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
func (p *ProximityPersistence) UnmarshalText(b []byte) error {
	return parseCode(p, proximityPersistenceNames, b)
}

// LEDCurrent is the IR LED drive current code.
type LEDCurrent byte

const (
	LEDCurrent3125uA LEDCurrent = iota
	LEDCurrent6250uA
	LEDCurrent12500uA
	LEDCurrent25mA
	LEDCurrent50mA
	LEDCurrent100mA
	LEDCurrent150mA
)

var ledCurrentNames = []string{"3.125mA", "6.25mA", "12.5mA", "25mA", "50mA", "100mA", "150mA"}

var ledCurrentMilliamps = []float64{3.125, 6.25, 12.5, 25, 50, 100, 150}

// Milliamps returns the drive current or 0 for a reserved code.
func (c LEDCurrent) Milliamps() float64 {
	if int(c) < len(ledCurrentMilliamps) {
		return ledCurrentMilliamps[c]
	}
	return 0
}

func (c LEDCurrent) String() string { return codeName(ledCurrentNames, byte(c)) }
func (c LEDCurrent) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
func (c *LEDCurrent) UnmarshalText(b []byte) error { return parseCode(c, ledCurrentNames, b) }

// Channel selects the proximity or ambient light threshold registers.
type Channel byte

const (
	Proximity Channel = iota
	Ambient
)

func (c Channel) String() string {
	switch c {
	case Proximity:
		return "proximity"
	case Ambient:
		return "ambient"
	}
	return fmt.Sprintf("channel(%d)", byte(c))
}

// Bound selects the high or low threshold of a channel.
type Bound byte

const (
	High Bound = iota
	Low
)

func (b Bound) String() string {
	switch b {
	case High:
		return "high"
	case Low:
		return "low"
	}
	return fmt.Sprintf("bound(%d)", byte(b))
}

func thresholdRegister(channel Channel, bound Bound) (byte, error) {
	switch {
	case channel == Proximity && bound == High:
		return bmsRegPSThdHigh, nil
	case channel == Proximity && bound == Low:
		return bmsRegPSThdLow, nil
	case channel == Ambient && bound == High:
		return bmsRegALSThdHigh, nil
	case channel == Ambient && bound == Low:
		return bmsRegALSThdLow, nil
	}
	return 0, fmt.Errorf("%w: %s %s threshold", ErrInvalidCode, channel, bound)
}

// Flag is a bit of the status register.
type Flag byte

const (
	FlagNearFar      Flag = 0
	FlagInvalidPSInt Flag = 1
	FlagALSSaturated Flag = 2
	FlagPSInt        Flag = 4
	FlagALSInt       Flag = 5
	FlagPSDataReady  Flag = 6
	FlagALSDataReady Flag = 7
)

var flagNames = map[Flag]string{
	FlagNearFar:      "far",
	FlagInvalidPSInt: "invalid_ps_int",
	FlagALSSaturated: "als_saturated",
	FlagPSInt:        "ps_int",
	FlagALSInt:       "als_int",
	FlagPSDataReady:  "ps_data_ready",
	FlagALSDataReady: "als_data_ready",
}

func (f Flag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return fmt.Sprintf("flag(%d)", byte(f))
}

// Flags is the raw status register.
type Flags byte

func (f Flags) Has(flag Flag) bool {
	return byte(f)&(1<<flag) != 0
}

// Near reports an object in the near state (near/far bit cleared).
func (f Flags) Near() bool {
	return !f.Has(FlagNearFar)
}

func (f Flags) String() string {
	var set []string
	for bit := Flag(0); bit < 8; bit++ {
		if _, known := flagNames[bit]; known && f.Has(bit) {
			set = append(set, bit.String())
		}
	}
	return "[" + strings.Join(set, " ") + "]"
}

func codeName(names []string, code byte) string {
	if int(code) < len(names) {
		return names[code]
	}
	return fmt.Sprintf("code(%d)", code)
}

func parseCode[T ~byte](dst *T, names []string, text []byte) error {
	s := strings.TrimSpace(string(text))
	for i, name := range names {
		if strings.EqualFold(name, s) {
			*dst = T(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q, expected one of %s", ErrInvalidCode, s, strings.Join(names, ", "))
}
