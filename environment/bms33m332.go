package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/lightprox"
	"github.com/mklimuk/lightprox/register"
)

var (
	ErrUnexpectedProductID      = errors.New("bms33m332: unexpected product id")
	ErrCalibrationInconsistency = errors.New("bms33m332: ambient calibration does not match hardware")
	ErrNoInterruptPin           = errors.New("bms33m332: no interrupt pin configured")
	ErrInvalidCode              = errors.New("bms33m332: invalid code")
)

// LifecycleState tells whether the device was configured since the facade
// was created or the chip was last reset.
type LifecycleState int

const (
	Uninitialized LifecycleState = iota
	Configured
)

func (s LifecycleState) String() string {
	if s == Configured {
		return "configured"
	}
	return "uninitialized"
}

type BMS33M332Opts struct {
	Address           byte
	SettleDelay       time.Duration
	TxTimeout         time.Duration
	InterruptPin      sensors.DigitalInput
	Profile           Profile
	ReapplyAfterReset bool
}

type BMS33M332Opt func(*BMS33M332Opts)

func WithBMS33M332Address(address byte) BMS33M332Opt {
	return func(o *BMS33M332Opts) {
		o.Address = address
	}
}

// WithSettleDelay sets the wait after every bus phase. Chip register commit
// takes about 1ms; test doubles can use 0.
func WithSettleDelay(delay time.Duration) BMS33M332Opt {
	return func(o *BMS33M332Opts) {
		o.SettleDelay = delay
	}
}

// WithTxTimeout bounds every single bus transfer, 0 disables the bound.
func WithTxTimeout(timeout time.Duration) BMS33M332Opt {
	return func(o *BMS33M332Opts) {
		o.TxTimeout = timeout
	}
}

func WithInterruptPin(pin sensors.DigitalInput) BMS33M332Opt {
	return func(o *BMS33M332Opts) {
		o.InterruptPin = pin
	}
}

// WithProfile replaces the configuration programmed by Begin.
func WithProfile(profile Profile) BMS33M332Opt {
	return func(o *BMS33M332Opts) {
		o.Profile = profile
	}
}

// WithReapplyAfterReset controls whether Reset programs the profile again
// once the chip is back to its power-on defaults.
func WithReapplyAfterReset(reapply bool) BMS33M332Opt {
	return func(o *BMS33M332Opts) {
		o.ReapplyAfterReset = reapply
	}
}

// BMS33M332 is the driver of the BMS33M332 (STK3332) ambient light and
// proximity sensor.
// Typical usage:
//
//	s := NewBMS33M332(bus, WithInterruptPin(pin))
//	if err := s.Begin(ctx); err != nil {
//		return err
//	}
//	lux, err := s.ReadAmbient(ctx)
//
// All methods of one instance are serialised. Nothing protects the register
// sequences against other masters or other drivers talking to the same
// device, multi-bit fields are programmed one bit at a time.
type BMS33M332 struct {
	mx     sync.Mutex
	config BMS33M332Opts
	dev    *register.Device
	state  LifecycleState
	cal    calibration
}

func NewBMS33M332(transport sensors.I2CBus, opts ...BMS33M332Opt) *BMS33M332 {
	config := BMS33M332Opts{
		Address:           BMS33M332DefaultAddr,
		SettleDelay:       register.DefaultSettleDelay,
		TxTimeout:         register.DefaultTimeout,
		Profile:           DefaultProfile(),
		ReapplyAfterReset: true,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &BMS33M332{
		config: config,
		dev: register.New(transport, config.Address,
			register.WithSettleDelay(config.SettleDelay),
			register.WithTimeout(config.TxTimeout),
		),
		cal: newCalibration(),
	}
}

// Begin checks the product id and programs the configured profile.
func (s *BMS33M332) Begin(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.begin(ctx)
}

func (s *BMS33M332) begin(ctx context.Context) error {
	id, err := s.dev.Read(ctx, bmsRegProductID)
	if err != nil {
		return fmt.Errorf("bms33m332: could not read product id: %w", err)
	}
	if id != BMS33M332ProductID {
		return fmt.Errorf("%w: got 0x%02x, expected 0x%02x at address 0x%02x", ErrUnexpectedProductID, id, BMS33M332ProductID, s.dev.Addr())
	}
	if err := s.applyProfile(ctx, s.config.Profile); err != nil {
		return fmt.Errorf("bms33m332: could not configure: %w", err)
	}
	s.state = Configured
	slog.Debug("bms33m332 configured", "addr", fmt.Sprintf("0x%02x", s.dev.Addr()), "lsb", s.cal.lsb())
	return nil
}

// Reset triggers a soft reset. The chip returns to its power-on defaults so
// the ambient calibration is considered unknown until the profile is
// programmed again, which happens here unless disabled with
// WithReapplyAfterReset(false).
func (s *BMS33M332) Reset(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	err := s.dev.Write(ctx, bmsRegSoftReset, bms33m332ResetCommand)
	// the command may have landed even if the transfer reported an error
	s.state = Uninitialized
	s.cal.invalidate()
	if err != nil {
		return fmt.Errorf("bms33m332: could not reset: %w", err)
	}
	if !s.config.ReapplyAfterReset {
		return nil
	}
	return s.begin(ctx)
}

func (s *BMS33M332) State() LifecycleState {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// ProductID reads the product id register (0x52 for this chip).
func (s *BMS33M332) ProductID(ctx context.Context) (byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	id, err := s.dev.Read(ctx, bmsRegProductID)
	if err != nil {
		return 0, fmt.Errorf("bms33m332: could not read product id: %w", err)
	}
	return id, nil
}

func (s *BMS33M332) ReadRawProximity(ctx context.Context) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.readUint16(ctx, bmsRegPSData, "proximity data")
}

func (s *BMS33M332) ReadRawAmbient(ctx context.Context) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.readUint16(ctx, bmsRegALSData, "ambient data")
}

func (s *BMS33M332) ReadClearChannel(ctx context.Context) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.readUint16(ctx, bmsRegClearData, "clear channel data")
}

// ReadAmbient returns the illuminance in lux. It fails with
// ErrCalibrationInconsistency while the gain or integration time in memory
// may differ from what the chip uses.
func (s *BMS33M332) ReadAmbient(ctx context.Context) (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.cal.check(); err != nil {
		return 0, err
	}
	raw, err := s.readUint16(ctx, bmsRegALSData, "ambient data")
	if err != nil {
		return 0, err
	}
	return s.cal.lux(raw), nil
}

// ObjectNear reports the near/far status of the proximity channel.
func (s *BMS33M332) ObjectNear(ctx context.Context) (bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	flags, err := s.flags(ctx)
	if err != nil {
		return false, err
	}
	return flags.Near(), nil
}

func (s *BMS33M332) SetProximityGain(ctx context.Context, gain ProximityGain) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setProximityGain(ctx, gain)
}

func (s *BMS33M332) setProximityGain(ctx context.Context, gain ProximityGain) error {
	if gain > ProximityGainX8 {
		return fmt.Errorf("%w: proximity gain %d", ErrInvalidCode, gain)
	}
	err := s.dev.SetField(ctx, bmsRegPSCtrl, bmsPSGainLSB, bmsPSGainWidth, byte(gain))
	if err != nil {
		return fmt.Errorf("bms33m332: could not set proximity gain: %w", err)
	}
	return nil
}

func (s *BMS33M332) SetProximityIntegrationTime(ctx context.Context, it ProximityIntegrationTime) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setProximityIntegrationTime(ctx, it)
}

func (s *BMS33M332) setProximityIntegrationTime(ctx context.Context, it ProximityIntegrationTime) error {
	if it > 0x0F {
		return fmt.Errorf("%w: proximity integration time %d", ErrInvalidCode, it)
	}
	err := s.dev.SetField(ctx, bmsRegPSCtrl, bmsPSIntegrationLSB, bmsPSIntegrationWidth, byte(it))
	if err != nil {
		return fmt.Errorf("bms33m332: could not set proximity integration time: %w", err)
	}
	return nil
}

func (s *BMS33M332) SetClearChannelGain(ctx context.Context, gain ClearChannelGain) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setClearChannelGain(ctx, gain)
}

func (s *BMS33M332) setClearChannelGain(ctx context.Context, gain ClearChannelGain) error {
	if gain > ClearChannelGainX64 {
		return fmt.Errorf("%w: clear channel gain %d", ErrInvalidCode, gain)
	}
	err := s.dev.SetField(ctx, bmsRegALSCtrl2, bmsClearGainLSB, bmsClearGainWidth, byte(gain))
	if err != nil {
		return fmt.Errorf("bms33m332: could not set clear channel gain: %w", err)
	}
	return nil
}

// SetProximityPersistence enables intelligent persistence and programs the
// count. With enable set to false only the intelligent persistence bit of the
// state register is cleared.
func (s *BMS33M332) SetProximityPersistence(ctx context.Context, prst ProximityPersistence, enable bool) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setProximityPersistence(ctx, prst, enable)
}

func (s *BMS33M332) setProximityPersistence(ctx context.Context, prst ProximityPersistence, enable bool) error {
	if prst > ProximityPersistenceX16 {
		return fmt.Errorf("%w: proximity persistence %d", ErrInvalidCode, prst)
	}
	return s.setPersistence(ctx, bmsRegPSCtrl, bmsPSPrstLSB, bmsPSPrstWidth, byte(prst), enable, "proximity")
}

// SetAmbientPersistence behaves like SetProximityPersistence for the ALS
// channel. Both channels share the intelligent persistence enable bit.
func (s *BMS33M332) SetAmbientPersistence(ctx context.Context, prst AmbientPersistence, enable bool) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setAmbientPersistence(ctx, prst, enable)
}

func (s *BMS33M332) setAmbientPersistence(ctx context.Context, prst AmbientPersistence, enable bool) error {
	if prst > AmbientPersistenceX8 {
		return fmt.Errorf("%w: ambient persistence %d", ErrInvalidCode, prst)
	}
	return s.setPersistence(ctx, bmsRegALSCtrl, bmsALSPrstLSB, bmsALSPrstWidth, byte(prst), enable, "ambient")
}

func (s *BMS33M332) setPersistence(ctx context.Context, reg, lsb, width, code byte, enable bool, channel string) error {
	err := s.dev.SetBit(ctx, bmsRegState, bmsStateEnIntelliPrst, enable)
	if err != nil {
		return fmt.Errorf("bms33m332: could not switch intelligent persistence: %w", err)
	}
	if !enable {
		return nil
	}
	err = s.dev.SetField(ctx, reg, lsb, width, code)
	if err != nil {
		return fmt.Errorf("bms33m332: could not set %s persistence: %w", channel, err)
	}
	return nil
}

func (s *BMS33M332) SetLEDCurrent(ctx context.Context, current LEDCurrent) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setLEDCurrent(ctx, current)
}

func (s *BMS33M332) setLEDCurrent(ctx context.Context, current LEDCurrent) error {
	if current > LEDCurrent150mA {
		return fmt.Errorf("%w: led current %d", ErrInvalidCode, current)
	}
	err := s.dev.SetField(ctx, bmsRegLEDCtrl, bmsLEDCurrentLSB, bmsLEDCurrentWidth, byte(current))
	if err != nil {
		return fmt.Errorf("bms33m332: could not set led current: %w", err)
	}
	return nil
}

func (s *BMS33M332) LEDCurrent(ctx context.Context) (LEDCurrent, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	v, err := s.dev.Field(ctx, bmsRegLEDCtrl, bmsLEDCurrentLSB, bmsLEDCurrentWidth)
	if err != nil {
		return 0, fmt.Errorf("bms33m332: could not read led current: %w", err)
	}
	return LEDCurrent(v), nil
}

// SetMeasureIntervalTime enables the wait state between measurements and sets
// its length to WaitPeriod(code). With enable set to false the wait state is
// switched off and the wait register is left alone.
func (s *BMS33M332) SetMeasureIntervalTime(ctx context.Context, code byte, enable bool) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.setMeasureIntervalTime(ctx, code, enable)
}

func (s *BMS33M332) setMeasureIntervalTime(ctx context.Context, code byte, enable bool) error {
	err := s.dev.SetBit(ctx, bmsRegState, bmsStateEnWait, enable)
	if err != nil {
		return fmt.Errorf("bms33m332: could not switch wait state: %w", err)
	}
	if !enable {
		return nil
	}
	err = s.dev.Write(ctx, bmsRegWait, code)
	if err != nil {
		return fmt.Errorf("bms33m332: could not set measure interval: %w", err)
	}
	return nil
}

// MeasureIntervalTime returns the wait register code.
func (s *BMS33M332) MeasureIntervalTime(ctx context.Context) (byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	v, err := s.dev.Read(ctx, bmsRegWait)
	if err != nil {
		return 0, fmt.Errorf("bms33m332: could not read measure interval: %w", err)
	}
	return v, nil
}

// WaitPeriod converts a wait register code to the time between measurements.
func WaitPeriod(code byte) time.Duration {
	return time.Duration(int(code)+1) * bmsWaitStep
}

// SetProximityOffset sets the value subtracted from every proximity sample.
func (s *BMS33M332) SetProximityOffset(ctx context.Context, offset uint16) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	err := s.dev.WriteUint16(ctx, bmsRegPSOffset, offset)
	if err != nil {
		return fmt.Errorf("bms33m332: could not set proximity offset: %w", err)
	}
	return nil
}

func (s *BMS33M332) ProximityOffset(ctx context.Context) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.readUint16(ctx, bmsRegPSOffset, "proximity offset")
}

// PollInterruptPin returns the current level of the interrupt line. The line
// is read directly, edge detection is up to the caller.
func (s *BMS33M332) PollInterruptPin(ctx context.Context) (sensors.Level, error) {
	if s.config.InterruptPin == nil {
		return sensors.Low, ErrNoInterruptPin
	}
	level, err := s.config.InterruptPin.ReadLevel(ctx)
	if err != nil {
		return sensors.Low, fmt.Errorf("bms33m332: could not read interrupt pin: %w", err)
	}
	return level, nil
}

// WriteRegister writes any register. Writes to the ambient control register
// or the reset register leave the ambient calibration unknown.
func (s *BMS33M332) WriteRegister(ctx context.Context, reg, value byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	switch reg {
	case bmsRegALSCtrl:
		s.cal.invalidate()
	case bmsRegSoftReset:
		s.cal.invalidate()
		s.state = Uninitialized
	}
	return s.dev.Write(ctx, reg, value)
}

func (s *BMS33M332) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.dev.Read(ctx, reg)
}

// ReadRegisters burst reads up to register.ScratchSize consecutive registers.
func (s *BMS33M332) ReadRegisters(ctx context.Context, reg byte, n int) ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.dev.ReadN(ctx, reg, n)
}

func (s *BMS33M332) readUint16(ctx context.Context, reg byte, what string) (uint16, error) {
	v, err := s.dev.ReadUint16(ctx, reg)
	if err != nil {
		return 0, fmt.Errorf("bms33m332: could not read %s: %w", what, err)
	}
	return v, nil
}
