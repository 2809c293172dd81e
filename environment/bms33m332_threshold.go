package environment

import (
	"context"
	"fmt"
)

// SetThreshold programs one 16 bit threshold, high byte first.
func (s *BMS33M332) SetThreshold(ctx context.Context, channel Channel, bound Bound, value uint16) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setThreshold(ctx, channel, bound, value)
}

func (s *BMS33M332) setThreshold(ctx context.Context, channel Channel, bound Bound, value uint16) error {
	reg, err := thresholdRegister(channel, bound)
	if err != nil {
		return err
	}
	err = s.dev.WriteUint16(ctx, reg, value)
	if err != nil {
		return fmt.Errorf("bms33m332: could not set %s %s threshold: %w", channel, bound, err)
	}
	return nil
}

func (s *BMS33M332) Threshold(ctx context.Context, channel Channel, bound Bound) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	reg, err := thresholdRegister(channel, bound)
	if err != nil {
		return 0, err
	}
	return s.readUint16(ctx, reg, fmt.Sprintf("%s %s threshold", channel, bound))
}

// EnableInterrupt programs both proximity thresholds and then switches the
// proximity interrupt on in near/far mode.
func (s *BMS33M332) EnableInterrupt(ctx context.Context, high, low uint16) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.enableInterrupt(ctx, high, low)
}

func (s *BMS33M332) enableInterrupt(ctx context.Context, high, low uint16) error {
	if err := s.setThreshold(ctx, Proximity, High, high); err != nil {
		return err
	}
	if err := s.setThreshold(ctx, Proximity, Low, low); err != nil {
		return err
	}
	err := s.dev.Write(ctx, bmsRegIntCtrl1, bmsIntCtrlProximityNearFar)
	if err != nil {
		return fmt.Errorf("bms33m332: could not enable interrupt: %w", err)
	}
	return nil
}

// DisableInterrupt clears the interrupt control register. Thresholds stay
// programmed.
func (s *BMS33M332) DisableInterrupt(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	err := s.dev.Write(ctx, bmsRegIntCtrl1, 0x00)
	if err != nil {
		return fmt.Errorf("bms33m332: could not disable interrupt: %w", err)
	}
	return nil
}

// InterruptEnabled reports whether the proximity interrupt is switched on.
func (s *BMS33M332) InterruptEnabled(ctx context.Context) (bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	v, err := s.dev.Read(ctx, bmsRegIntCtrl1)
	if err != nil {
		return false, fmt.Errorf("bms33m332: could not read interrupt control: %w", err)
	}
	return v&0x01 != 0, nil
}

func (s *BMS33M332) Flags(ctx context.Context) (Flags, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.flags(ctx)
}

func (s *BMS33M332) flags(ctx context.Context) (Flags, error) {
	v, err := s.dev.Read(ctx, bmsRegFlag)
	if err != nil {
		return 0, fmt.Errorf("bms33m332: could not read flags: %w", err)
	}
	return Flags(v), nil
}

// ClearFlag writes 0 to one status bit.
func (s *BMS33M332) ClearFlag(ctx context.Context, flag Flag) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, known := flagNames[flag]; !known {
		return fmt.Errorf("%w: %s", ErrInvalidCode, flag)
	}
	err := s.dev.SetBit(ctx, bmsRegFlag, byte(flag), false)
	if err != nil {
		return fmt.Errorf("bms33m332: could not clear flag %s: %w", flag, err)
	}
	return nil
}
