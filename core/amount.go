package core

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the scale used by the settlement rail (1e18 base
// units per whole unit).
const DefaultDecimals int32 = 18

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Amount is an unsigned 256-bit integer in scaled base units. The zero value is 0.
// Amounts are immutable; every operation returns a fresh value.
type Amount struct {
	v *big.Int
}

// NewAmount returns an Amount holding u base units.
func NewAmount(u uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(u)}
}

// AmountFromBig validates that b fits in 256 unsigned bits and copies it.
func AmountFromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if b.Sign() < 0 {
		return Amount{}, Errorf(ErrInvalidAmount, "amount %s is negative", b)
	}
	if b.Cmp(maxUint256) > 0 {
		return Amount{}, Errorf(ErrInvalidAmount, "amount %s exceeds 256 bits", b)
	}
	return Amount{v: new(big.Int).Set(b)}, nil
}

// ParseAmount parses a base-10 integer of base units.
func ParseAmount(s string) (Amount, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, Errorf(ErrInvalidAmount, "amount %q is not a base-10 integer", s)
	}
	return AmountFromBig(b)
}

// ParseUnits converts a decimal string of whole units ("0.6") into base units at
// the given scale. Inputs with more fractional digits than decimals are rejected
// rather than rounded.
func ParseUnits(s string, decimals int32) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, Errorf(ErrInvalidAmount, "amount %q: %v", s, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Amount{}, Errorf(ErrInvalidAmount, "amount %q has more than %d fractional digits", s, decimals)
	}
	return AmountFromBig(scaled.BigInt())
}

// MustParseUnits is ParseUnits for constants and tests.
func MustParseUnits(s string, decimals int32) Amount {
	a, err := ParseUnits(s, decimals)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int { return new(big.Int).Set(a.big()) }

func (a Amount) Cmp(b Amount) int { return a.big().Cmp(b.big()) }

// Equal reports numeric equality. It also lets go-cmp compare structs holding
// Amounts.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

func (a Amount) IsZero() bool { return a.v == nil || a.v.Sign() == 0 }

// String renders base units in base 10.
func (a Amount) String() string { return a.big().String() }

// Format renders the amount in whole units at the given scale, without trailing
// zeros ("0.6").
func (a Amount) Format(decimals int32) string {
	return decimal.NewFromBigInt(a.big(), -decimals).String()
}

// Bytes32 is the big-endian uint256 encoding used by the commitment schemes.
func (a Amount) Bytes32() [32]byte {
	var out [32]byte
	a.big().FillBytes(out[:])
	return out
}

func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Amount) UnmarshalText(b []byte) error {
	parsed, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
