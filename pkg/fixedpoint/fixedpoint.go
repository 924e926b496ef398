// Package fixedpoint implements checked multiply/divide helpers over three
// fixed-point scales:
//
//	WAD = 1e18  unit scale (token amounts, collateral, normalized debt)
//	RAY = 1e27  rate scale (rate accumulators, spot prices)
//	RAD = 1e45  precision accumulator (WAD x RAY products)
//
// Every helper names its rounding direction. None of them wrap: an
// intermediate product that does not fit 512 bits, a quotient that does not
// fit 256 bits, or a subtraction below zero is reported as an error wrapping
// ErrArithmetic.
package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrArithmetic     = errors.New("arithmetic fault")
	ErrOverflow       = fmt.Errorf("%w: overflow", ErrArithmetic)
	ErrUnderflow      = fmt.Errorf("%w: underflow", ErrArithmetic)
	ErrDivisionByZero = fmt.Errorf("%w: division by zero", ErrArithmetic)
)

var (
	WAD = uint256.MustFromDecimal("1000000000000000000")
	RAY = uint256.MustFromDecimal("1000000000000000000000000000")
	RAD = uint256.MustFromDecimal("1000000000000000000000000000000000000000000000")
)

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Max returns 2^256-1, used as the infinite allowance.
func Max() *uint256.Int { return new(uint256.Int).SetAllOne() }

// Add returns x+y.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Sub returns x-y and fails instead of wrapping when y > x.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrUnderflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// MulDivDown returns floor(x*y/d).
func MulDivDown(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// MulDivUp returns ceil(x*y/d).
func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDivDown(x, y, d)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z, nil
	}
	return Add(z, uint256.NewInt(1))
}

// WadMulDown returns floor(a*b/WAD).
func WadMulDown(a, b *uint256.Int) (*uint256.Int, error) { return MulDivDown(a, b, WAD) }

// WadMulUp returns ceil(a*b/WAD).
func WadMulUp(a, b *uint256.Int) (*uint256.Int, error) { return MulDivUp(a, b, WAD) }

// WadDivDown returns floor(a*WAD/b).
func WadDivDown(a, b *uint256.Int) (*uint256.Int, error) { return MulDivDown(a, WAD, b) }

// WadDivUp returns ceil(a*WAD/b).
func WadDivUp(a, b *uint256.Int) (*uint256.Int, error) { return MulDivUp(a, WAD, b) }

// RayMulDown returns floor(a*b/RAY). With a in WAD and b a RAY rate the
// result is in WAD.
func RayMulDown(a, b *uint256.Int) (*uint256.Int, error) { return MulDivDown(a, b, RAY) }

// RayMulUp returns ceil(a*b/RAY).
func RayMulUp(a, b *uint256.Int) (*uint256.Int, error) { return MulDivUp(a, b, RAY) }

// RayDivDown returns floor(a*RAY/b). Converting an asset amount into
// normalized units with this helper never overstates the normalized amount.
func RayDivDown(a, b *uint256.Int) (*uint256.Int, error) { return MulDivDown(a, RAY, b) }

// RayDivUp returns ceil(a*RAY/b).
func RayDivUp(a, b *uint256.Int) (*uint256.Int, error) { return MulDivUp(a, RAY, b) }

// ToRad widens a WAD x RAY product into the RAD accumulator.
func ToRad(wad, ray *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(wad, ray)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrOverflow, wad.Dec(), ray.Dec())
	}
	return z, nil
}

// RadToWadUp narrows a RAD value to WAD, rounding up.
func RadToWadUp(rad *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(rad, uint256.NewInt(1), RAY)
}

// RadToWadDown narrows a RAD value to WAD, rounding down.
func RadToWadDown(rad *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(rad, RAY)
}

// ParseDecimal parses a base-10 amount, accepting an empty string as zero.
func ParseDecimal(s string) (*uint256.Int, error) {
	if s == "" {
		return Zero(), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return v, nil
}

// Wad returns n whole units in WAD.
func Wad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), WAD)
}

// MustRay parses a RAY constant and panics on malformed input.
func MustRay(s string) *uint256.Int { return uint256.MustFromDecimal(s) }
