package environment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/lightprox/register"
)

// lux per count at x1 gain and x1 integration multiplier
const ambientLuxPerCount = 0.8204

// calibration mirrors the two ALS control fields the lux conversion depends
// on. A field is in sync only if the value kept here is known to be the one
// programmed in the chip.
type calibration struct {
	gain              AmbientGain
	integration       AmbientIntegrationTime
	gainSynced        bool
	integrationSynced bool
}

// chip defaults are x1 gain and 100ms (x4) integration, nothing is known to be
// programmed yet
func newCalibration() calibration {
	return calibration{
		gain:        AmbientGainX1,
		integration: AmbientIntegration100ms,
	}
}

func (c *calibration) lsb() float64 {
	return ambientLuxPerCount / float64(c.integration.Multiplier()) / float64(c.gain.Multiplier())
}

func (c *calibration) lux(raw uint16) float64 {
	return float64(raw) * c.lsb()
}

func (c *calibration) synced() bool {
	return c.gainSynced && c.integrationSynced
}

func (c *calibration) invalidate() {
	c.gainSynced = false
	c.integrationSynced = false
}

func (c *calibration) check() error {
	if c.synced() {
		return nil
	}
	var stale []string
	if !c.gainSynced {
		stale = append(stale, "gain")
	}
	if !c.integrationSynced {
		stale = append(stale, "integration time")
	}
	return fmt.Errorf("%w: %v not confirmed", ErrCalibrationInconsistency, stale)
}

// SetAmbientGain programs the ALS gain. The conversion factor follows only
// once both gain bits were written. Codes above AmbientGainX64 are rejected
// with ErrInvalidCode instead of being masked to two bits, so the chip can
// never run at a gain the conversion does not assume.
func (s *BMS33M332) SetAmbientGain(ctx context.Context, gain AmbientGain) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setAmbientGain(ctx, gain)
}

func (s *BMS33M332) setAmbientGain(ctx context.Context, gain AmbientGain) error {
	if gain > AmbientGainX64 {
		return fmt.Errorf("%w: ambient gain %d", ErrInvalidCode, gain)
	}
	err := s.dev.SetField(ctx, bmsRegALSCtrl, bmsALSGainLSB, bmsALSGainWidth, byte(gain))
	if err != nil {
		s.cal.gainSynced = false
		slog.Warn("bms33m332 ambient gain write failed, lux readings suspended", "gain", gain.String(), "err", err)
		return fmt.Errorf("bms33m332: could not set ambient gain: %w", err)
	}
	s.cal.gain = gain
	s.cal.gainSynced = true
	return nil
}

// SetAmbientIntegrationTime programs the ALS integration time. Codes 0..6
// scale the conversion by 2^code, codes 7..15 scale it by 4. Codes that do
// not fit the 4 bit field are rejected with ErrInvalidCode.
func (s *BMS33M332) SetAmbientIntegrationTime(ctx context.Context, it AmbientIntegrationTime) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setAmbientIntegrationTime(ctx, it)
}

func (s *BMS33M332) setAmbientIntegrationTime(ctx context.Context, it AmbientIntegrationTime) error {
	if it > 0x0F {
		return fmt.Errorf("%w: ambient integration time %d", ErrInvalidCode, it)
	}
	err := s.dev.SetField(ctx, bmsRegALSCtrl, bmsALSIntegrationLSB, bmsALSIntegrationWidth, byte(it))
	if err != nil {
		s.cal.integrationSynced = false
		slog.Warn("bms33m332 ambient integration time write failed, lux readings suspended", "integration", it.String(), "err", err)
		return fmt.Errorf("bms33m332: could not set ambient integration time: %w", err)
	}
	s.cal.integration = it
	s.cal.integrationSynced = true
	return nil
}

// Lsb returns the lux value of one ambient count for the gain and integration
// time held in memory. After a failed setter or a Reset without re-apply the
// factor is not confirmed by the chip; see AmbientCalibration for the sync
// state.
func (s *BMS33M332) Lsb() float64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.cal.lsb()
}

// ComputeAmbientLux converts a raw ambient count to lux using the in-memory
// calibration. Unlike ReadAmbient it does not check that the calibration is
// in sync with the chip; use AmbientCalibration or VerifyCalibration for that.
func (s *BMS33M332) ComputeAmbientLux(raw uint16) float64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.cal.lux(raw)
}

// AmbientCalibration returns the gain and integration time used for lux
// conversion and whether both are confirmed to match the chip.
func (s *BMS33M332) AmbientCalibration() (AmbientGain, AmbientIntegrationTime, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.cal.gain, s.cal.integration, s.cal.synced()
}

// VerifyCalibration reads the ALS control register back. When both fields
// match the values in memory the calibration is confirmed, otherwise
// ErrCalibrationInconsistency is returned and lux readings stay suspended.
func (s *BMS33M332) VerifyCalibration(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	ctrl, err := s.dev.Read(ctx, bmsRegALSCtrl)
	if err != nil {
		return fmt.Errorf("bms33m332: could not read ambient control: %w", err)
	}
	gain := AmbientGain(register.Extract(ctrl, bmsALSGainLSB, bmsALSGainWidth))
	it := AmbientIntegrationTime(register.Extract(ctrl, bmsALSIntegrationLSB, bmsALSIntegrationWidth))
	s.cal.gainSynced = gain == s.cal.gain
	s.cal.integrationSynced = it == s.cal.integration
	if !s.cal.synced() {
		return fmt.Errorf("%w: chip uses gain %s and integration %s, expected %s and %s",
			ErrCalibrationInconsistency, gain, it, s.cal.gain, s.cal.integration)
	}
	return nil
}
