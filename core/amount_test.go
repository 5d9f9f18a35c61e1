package core

import (
	"errors"
	"math/big"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestParseUnits(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"0.6", "600000000000000000"},
		{"1", "1000000000000000000"},
		{"0.000000000000000001", "1"},
		{"0", "0"},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			a, err := ParseUnits(tc.in, DefaultDecimals)
			assert.NoError(t, err)
			check.Equal(t, tc.want, a.String())
			check.Equal(t, tc.in, a.Format(DefaultDecimals))
		})
	}
}

func TestParseUnits_Rejects(t *testing.T) {
	for _, in := range []string{"-1", "0.0000000000000000001", "abc", ""} {
		_, err := ParseUnits(in, DefaultDecimals)
		check.True(t, errors.Is(err, ErrInvalidAmount))
	}
}

func TestAmountFromBig_Range(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	a, err := AmountFromBig(max)
	check.NoError(t, err)
	word := a.Bytes32()
	check.Equal(t, byte(0xff), word[0])

	_, err = AmountFromBig(new(big.Int).Add(max, big.NewInt(1)))
	check.True(t, errors.Is(err, ErrValidation))
}

func TestAmount_ZeroValue(t *testing.T) {
	var a Amount
	check.True(t, a.IsZero())
	check.Equal(t, "0", a.String())
	check.True(t, a.Equal(NewAmount(0)))
	check.Equal(t, -1, a.Cmp(NewAmount(1)))
}

func TestAmount_TextRoundTrip(t *testing.T) {
	a := MustParseUnits("0.7", DefaultDecimals)
	text, err := a.MarshalText()
	assert.NoError(t, err)

	var b Amount
	assert.NoError(t, b.UnmarshalText(text))
	check.True(t, a.Equal(b))
}

func TestErrorKinds(t *testing.T) {
	err := Errorf(ErrProofMismatch, "bidder %s", bidderA)
	check.True(t, errors.Is(err, ErrProofMismatch))
	check.True(t, errors.Is(err, ErrValidation))
	check.False(t, errors.Is(err, ErrConflict))
	check.False(t, errors.Is(err, ErrCapacityExceeded))

	kind, ok := KindOf(err)
	check.True(t, ok)
	check.Equal(t, KindValidation, kind)
	check.Equal(t, "proof_mismatch", CodeOf(err))

	check.Equal(t, RetryLater, KindPhaseViolation.Disposition())
	check.Equal(t, NeverRetry, KindConflict.Disposition())
	check.Equal(t, NeverRetry, KindValidation.Disposition())
	check.Equal(t, Escalate, KindAccessDenied.Disposition())

	_, ok = KindOf(errors.New("disk full"))
	check.False(t, ok)
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	check.NoError(t, err)
	check.Equal(t, "0x70997970c51812dc3a010c7d01b50e0d17dc79c8", a.String())

	_, err = ParseAddress("0x1234")
	check.True(t, errors.Is(err, ErrMalformedInput))
}
