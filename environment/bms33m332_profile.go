package environment

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/lightprox/register"
)

// Profile is a complete configuration of the sensor, serialisable as YAML:
//
//	proximity:
//	  enabled: true
//	  gain: x8
//	  integration_time: 96us
//	  persistence: x1
//	ambient:
//	  enabled: true
//	  gain: x1
//	  integration_time: 100ms
//	  persistence: x1
//	intelligent_persistence: true
//	wait:
//	  enabled: true
//	  code: 0
//	led_current: 100mA
type Profile struct {
	Proximity              ProximityProfile  `yaml:"proximity"`
	Ambient                AmbientProfile    `yaml:"ambient"`
	IntelligentPersistence bool              `yaml:"intelligent_persistence"`
	Wait                   WaitProfile       `yaml:"wait"`
	LEDCurrent             LEDCurrent        `yaml:"led_current"`
	Interrupt              *InterruptProfile `yaml:"interrupt,omitempty"`
}

type ProximityProfile struct {
	Enabled         bool                     `yaml:"enabled"`
	Gain            ProximityGain            `yaml:"gain"`
	IntegrationTime ProximityIntegrationTime `yaml:"integration_time"`
	Persistence     ProximityPersistence     `yaml:"persistence"`
	Offset          *uint16                  `yaml:"offset,omitempty"`
}

type AmbientProfile struct {
	Enabled          bool                   `yaml:"enabled"`
	Gain             AmbientGain            `yaml:"gain"`
	IntegrationTime  AmbientIntegrationTime `yaml:"integration_time"`
	Persistence      AmbientPersistence     `yaml:"persistence"`
	ClearChannelGain *ClearChannelGain      `yaml:"clear_channel_gain,omitempty"`
}

type WaitProfile struct {
	Enabled bool `yaml:"enabled"`
	Code    byte `yaml:"code"`
}

// InterruptProfile enables the proximity interrupt with the given thresholds.
type InterruptProfile struct {
	High uint16 `yaml:"high"`
	Low  uint16 `yaml:"low"`
}

// DefaultProfile is the configuration programmed by Begin unless replaced
// with WithProfile. Its ambient gain and integration time equal the
// calibration defaults, one count is 0.2051 lux.
func DefaultProfile() Profile {
	return Profile{
		Proximity: ProximityProfile{
			Enabled:         true,
			Gain:            ProximityGainX8,
			IntegrationTime: ProximityIntegration96us,
			Persistence:     ProximityPersistenceX1,
		},
		Ambient: AmbientProfile{
			Enabled:         true,
			Gain:            AmbientGainX1,
			IntegrationTime: AmbientIntegration100ms,
			Persistence:     AmbientPersistenceX1,
		},
		IntelligentPersistence: true,
		Wait:                   WaitProfile{Enabled: true, Code: 0},
		LEDCurrent:             LEDCurrent100mA,
	}
}

// ReadProfile decodes a YAML profile. Fields missing from the document keep
// their DefaultProfile values.
func ReadProfile(r io.Reader) (Profile, error) {
	profile := DefaultProfile()
	err := yaml.NewDecoder(r).Decode(&profile)
	if err != nil && err != io.EOF {
		return Profile{}, fmt.Errorf("could not decode profile: %w", err)
	}
	return profile, nil
}

// ApplyProfile programs every setting of the profile in the order used by
// Begin. Only the ambient calibration fields that were written successfully
// are taken over for lux conversion.
func (s *BMS33M332) ApplyProfile(ctx context.Context, profile Profile) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	err := s.applyProfile(ctx, profile)
	if err != nil {
		return err
	}
	s.state = Configured
	return nil
}

func (s *BMS33M332) applyProfile(ctx context.Context, p Profile) error {
	steps := []func() error{
		func() error { return s.enableChannel(ctx, bmsStateEnPS, p.Proximity.Enabled, "proximity") },
		func() error { return s.enableChannel(ctx, bmsStateEnALS, p.Ambient.Enabled, "ambient") },
		func() error { return s.setMeasureIntervalTime(ctx, p.Wait.Code, p.Wait.Enabled) },
		func() error {
			return s.setProximityPersistence(ctx, p.Proximity.Persistence, p.IntelligentPersistence)
		},
		func() error { return s.setProximityGain(ctx, p.Proximity.Gain) },
		func() error { return s.setProximityIntegrationTime(ctx, p.Proximity.IntegrationTime) },
		func() error { return s.setAmbientPersistence(ctx, p.Ambient.Persistence, p.IntelligentPersistence) },
		func() error { return s.setAmbientGain(ctx, p.Ambient.Gain) },
		func() error { return s.setAmbientIntegrationTime(ctx, p.Ambient.IntegrationTime) },
		func() error { return s.setLEDCurrent(ctx, p.LEDCurrent) },
	}
	if p.Ambient.ClearChannelGain != nil {
		gain := *p.Ambient.ClearChannelGain
		steps = append(steps, func() error { return s.setClearChannelGain(ctx, gain) })
	}
	if p.Proximity.Offset != nil {
		offset := *p.Proximity.Offset
		steps = append(steps, func() error {
			if err := s.dev.WriteUint16(ctx, bmsRegPSOffset, offset); err != nil {
				return fmt.Errorf("bms33m332: could not set proximity offset: %w", err)
			}
			return nil
		})
	}
	if p.Interrupt != nil {
		high, low := p.Interrupt.High, p.Interrupt.Low
		steps = append(steps, func() error { return s.enableInterrupt(ctx, high, low) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (s *BMS33M332) enableChannel(ctx context.Context, bit byte, enable bool, channel string) error {
	err := s.dev.SetBit(ctx, bmsRegState, bit, enable)
	if err != nil {
		return fmt.Errorf("bms33m332: could not switch %s channel: %w", channel, err)
	}
	return nil
}

// BMS33M332Status is a snapshot of the sensor registers.
type BMS33M332Status struct {
	Address                string          `yaml:"address"`
	ProductID              string          `yaml:"product_id"`
	State                  string          `yaml:"state"`
	Proximity              ProximityStatus `yaml:"proximity"`
	Ambient                AmbientStatus   `yaml:"ambient"`
	IntelligentPersistence bool            `yaml:"intelligent_persistence"`
	WaitEnabled            bool            `yaml:"wait_enabled"`
	WaitPeriod             time.Duration   `yaml:"wait_period"`
	LEDCurrent             LEDCurrent      `yaml:"led_current"`
	InterruptEnabled       bool            `yaml:"interrupt_enabled"`
	Flags                  string          `yaml:"flags"`
}

type ProximityStatus struct {
	Enabled         bool                     `yaml:"enabled"`
	Gain            ProximityGain            `yaml:"gain"`
	IntegrationTime ProximityIntegrationTime `yaml:"integration_time"`
	Persistence     ProximityPersistence     `yaml:"persistence"`
	Raw             uint16                   `yaml:"raw"`
	Offset          uint16                   `yaml:"offset"`
	Near            bool                     `yaml:"near"`
	ThresholdHigh   uint16                   `yaml:"threshold_high"`
	ThresholdLow    uint16                   `yaml:"threshold_low"`
}

type AmbientStatus struct {
	Enabled           bool                   `yaml:"enabled"`
	Gain              AmbientGain            `yaml:"gain"`
	IntegrationTime   AmbientIntegrationTime `yaml:"integration_time"`
	Persistence       AmbientPersistence     `yaml:"persistence"`
	ClearChannelGain  ClearChannelGain       `yaml:"clear_channel_gain"`
	Raw               uint16                 `yaml:"raw"`
	Clear             uint16                 `yaml:"clear"`
	Lux               *float64               `yaml:"lux,omitempty"`
	Lsb               float64                `yaml:"lsb"`
	CalibrationSynced bool                   `yaml:"calibration_synced"`
	ThresholdHigh     uint16                 `yaml:"threshold_high"`
	ThresholdLow      uint16                 `yaml:"threshold_low"`
}

// Snapshot reads all configuration and data registers. Lux is only reported
// while the calibration is in sync.
func (s *BMS33M332) Snapshot(ctx context.Context) (BMS33M332Status, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	var st BMS33M332Status
	read := func(reg byte) (byte, error) {
		v, err := s.dev.Read(ctx, reg)
		if err != nil {
			return 0, fmt.Errorf("bms33m332: could not read register 0x%02x: %w", reg, err)
		}
		return v, nil
	}
	// state, proximity, ambient and led control are consecutive
	ctrl, err := s.dev.ReadN(ctx, bmsRegState, register.ScratchSize)
	if err != nil {
		return st, fmt.Errorf("bms33m332: could not read control registers: %w", err)
	}
	state, psCtrl, alsCtrl, ledCtrl := ctrl[0], ctrl[1], ctrl[2], ctrl[3]
	intCtrl, err := read(bmsRegIntCtrl1)
	if err != nil {
		return st, err
	}
	wait, err := read(bmsRegWait)
	if err != nil {
		return st, err
	}
	alsCtrl2, err := read(bmsRegALSCtrl2)
	if err != nil {
		return st, err
	}
	flag, err := read(bmsRegFlag)
	if err != nil {
		return st, err
	}
	id, err := read(bmsRegProductID)
	if err != nil {
		return st, err
	}
	words := []struct {
		reg  byte
		what string
		dst  *uint16
	}{
		{bmsRegPSData, "proximity data", &st.Proximity.Raw},
		{bmsRegPSOffset, "proximity offset", &st.Proximity.Offset},
		{bmsRegPSThdHigh, "proximity high threshold", &st.Proximity.ThresholdHigh},
		{bmsRegPSThdLow, "proximity low threshold", &st.Proximity.ThresholdLow},
		{bmsRegALSData, "ambient data", &st.Ambient.Raw},
		{bmsRegClearData, "clear channel data", &st.Ambient.Clear},
		{bmsRegALSThdHigh, "ambient high threshold", &st.Ambient.ThresholdHigh},
		{bmsRegALSThdLow, "ambient low threshold", &st.Ambient.ThresholdLow},
	}
	for _, w := range words {
		if *w.dst, err = s.readUint16(ctx, w.reg, w.what); err != nil {
			return st, err
		}
	}

	st.Address = fmt.Sprintf("0x%02x", s.dev.Addr())
	st.ProductID = fmt.Sprintf("0x%02x", id)
	st.State = s.state.String()
	st.IntelligentPersistence = state&(1<<bmsStateEnIntelliPrst) != 0
	st.WaitEnabled = state&(1<<bmsStateEnWait) != 0
	st.WaitPeriod = WaitPeriod(wait)
	st.LEDCurrent = LEDCurrent(register.Extract(ledCtrl, bmsLEDCurrentLSB, bmsLEDCurrentWidth))
	st.InterruptEnabled = intCtrl&0x01 != 0
	st.Flags = Flags(flag).String()

	st.Proximity.Enabled = state&(1<<bmsStateEnPS) != 0
	st.Proximity.Gain = ProximityGain(register.Extract(psCtrl, bmsPSGainLSB, bmsPSGainWidth))
	st.Proximity.IntegrationTime = ProximityIntegrationTime(register.Extract(psCtrl, bmsPSIntegrationLSB, bmsPSIntegrationWidth))
	st.Proximity.Persistence = ProximityPersistence(register.Extract(psCtrl, bmsPSPrstLSB, bmsPSPrstWidth))
	st.Proximity.Near = Flags(flag).Near()

	st.Ambient.Enabled = state&(1<<bmsStateEnALS) != 0
	st.Ambient.Gain = AmbientGain(register.Extract(alsCtrl, bmsALSGainLSB, bmsALSGainWidth))
	st.Ambient.IntegrationTime = AmbientIntegrationTime(register.Extract(alsCtrl, bmsALSIntegrationLSB, bmsALSIntegrationWidth))
	st.Ambient.Persistence = AmbientPersistence(register.Extract(alsCtrl, bmsALSPrstLSB, bmsALSPrstWidth))
	st.Ambient.ClearChannelGain = ClearChannelGain(register.Extract(alsCtrl2, bmsClearGainLSB, bmsClearGainWidth))
	st.Ambient.Lsb = s.cal.lsb()
	st.Ambient.CalibrationSynced = s.cal.synced()
	if st.Ambient.CalibrationSynced {
		lux := s.cal.lux(st.Ambient.Raw)
		st.Ambient.Lux = &lux
	}
	return st, nil
}
