// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dgbunit

import (
	"math"
	"math/big"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string. Three decimal places ensure that
	// low fee rates are displayed with sufficient precision and not
	// rounded to zero.
	floatStringPrecision = 3
)

// ZeroSatPerVByte is a fee rate of 0 sat/vb.
var ZeroSatPerVByte = SatPerVByte{}

// SatPerVByte represents a fee rate in satoshis per virtual byte. The rate is
// stored as an exact rational so that floors reported by the node in
// coin/kvB convert to sat/vb without binary-float drift.
type SatPerVByte struct {
	rate *big.Rat
}

// ratFromFloat converts a float to an exact rational through its shortest
// decimal representation. A policy value decoded as the float 0.0002 becomes
// the rational 2/10000, not the binary neighbor the float actually stores.
func ratFromFloat(rate float64) *big.Rat {
	r, ok := new(big.Rat).SetString(
		strconv.FormatFloat(rate, 'f', -1, 64),
	)
	if !ok {
		return new(big.Rat)
	}

	return r
}

// NewSatPerVByte creates a new fee rate from a sat/vb value. Non-finite
// values yield a zero rate.
func NewSatPerVByte(rate float64) SatPerVByte {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ZeroSatPerVByte
	}

	return SatPerVByte{rate: ratFromFloat(rate)}
}

// SatPerVByteFromCoinPerKVB converts a coin-per-kilo-virtual-byte fee rate,
// the unit used by node policy and estimate responses, into sat/vb. The
// conversion is the fixed factor 1e8/1000.
func SatPerVByteFromCoinPerKVB(rate float64) SatPerVByte {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ZeroSatPerVByte
	}

	r := ratFromFloat(rate)
	r.Mul(r, big.NewRat(SatoshiPerCoin, kilo))

	return SatPerVByte{rate: r}
}

// val returns the internal rational, treating the zero value as a zero rate.
func (s SatPerVByte) val() *big.Rat {
	if s.rate == nil {
		return new(big.Rat)
	}

	return s.rate
}

// FeeForVSize calculates the absolute fee in satoshis for a transaction of
// the given virtual size, rounding up to the nearest satoshi.
func (s SatPerVByte) FeeForVSize(vsize int64) btcutil.Amount {
	fee := new(big.Rat).Mul(s.val(), big.NewRat(vsize, 1))

	// Ceiling division: (numerator + denominator - 1) / denominator.
	numerator := fee.Num()
	denominator := fee.Denom()

	result := new(big.Int)
	result.Add(numerator, denominator)
	result.Sub(result, big.NewInt(1))
	result.Div(result, denominator)

	return btcutil.Amount(result.Int64())
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	return s.val().FloatString(floatStringPrecision) + " sat/vb"
}

// IsZero returns true if the fee rate is zero.
func (s SatPerVByte) IsZero() bool {
	return s.val().Sign() == 0
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.val().Cmp(other.val()) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee
// rate.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.val().Cmp(other.val()) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.val().Cmp(other.val()) < 0
}

// GreaterThanOrEqual returns true if the fee rate is greater than or equal to
// the other fee rate.
func (s SatPerVByte) GreaterThanOrEqual(other SatPerVByte) bool {
	return s.val().Cmp(other.val()) >= 0
}

// LessThanOrEqual returns true if the fee rate is less than or equal to the
// other fee rate.
func (s SatPerVByte) LessThanOrEqual(other SatPerVByte) bool {
	return s.val().Cmp(other.val()) <= 0
}
