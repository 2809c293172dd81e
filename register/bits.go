package register

import (
	"context"
	"fmt"
)

// SetBit sets (value == true) or clears one bit of register reg, leaving the
// other bits untouched.
//
// This is a read-modify-write sequence and it is not atomic: a change made by
// another bus user between the read and the write is lost. Hold an external
// lock around related edits if the register is shared.
func (d *Device) SetBit(ctx context.Context, reg, bit byte, value bool) error {
	if bit > 7 {
		return d.wrap("set bit in", reg, fmt.Errorf("%w: %d", ErrInvalidBit, bit))
	}
	data, err := d.Read(ctx, reg)
	if err != nil {
		return err
	}
	if value {
		data |= 1 << bit
	} else {
		data &^= 1 << bit
	}
	return d.Write(ctx, reg, data)
}

// SetField programs width bits of register reg starting at bit lsb with the
// low bits of value. Bits are written one at a time from lsb upwards; the
// sequence stops at the first failure, which may leave the field holding a
// mix of old and new bits. Intermediate states are visible to other readers
// until the last bit is written.
func (d *Device) SetField(ctx context.Context, reg, lsb, width, value byte) error {
	if width == 0 || int(lsb)+int(width) > 8 {
		return d.wrap("set field in", reg, fmt.Errorf("%w: bits %d..%d", ErrInvalidBit, lsb, int(lsb)+int(width)-1))
	}
	for i := byte(0); i < width; i++ {
		err := d.SetBit(ctx, reg, lsb+i, value&(1<<i) != 0)
		if err != nil {
			return err
		}
	}
	return nil
}

// Field reads register reg and extracts width bits starting at lsb.
func (d *Device) Field(ctx context.Context, reg, lsb, width byte) (byte, error) {
	if width == 0 || int(lsb)+int(width) > 8 {
		return 0, d.wrap("read field in", reg, fmt.Errorf("%w: bits %d..%d", ErrInvalidBit, lsb, int(lsb)+int(width)-1))
	}
	data, err := d.Read(ctx, reg)
	if err != nil {
		return 0, err
	}
	return Extract(data, lsb, width), nil
}

// Extract returns width bits of data starting at lsb.
func Extract(data, lsb, width byte) byte {
	mask := byte(1<<width - 1)
	return (data >> lsb) & mask
}
