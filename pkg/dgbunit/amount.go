// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dgbunit provides types for dealing with DigiByte monetary units
// and fee rates.
//
// All monetary values are held as integer satoshis (btcutil.Amount). The only
// place a decimal representation is converted to or from satoshis is in
// ParseCoin and FormatCoin, so rounding behavior is defined in exactly one
// spot: fractional digits beyond the eighth are truncated, never rounded.
package dgbunit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// SatoshiPerCoin is the number of satoshis in one coin.
	SatoshiPerCoin = 100_000_000

	// coinDecimals is the number of fractional digits carried by a coin
	// amount. Digits beyond this are truncated by ParseCoin.
	coinDecimals = 8
)

var (
	// ErrInvalidAmount is returned when a decimal amount string cannot be
	// parsed.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNegativeAmount is returned when a decimal amount string carries a
	// negative sign. Amounts in this package are unsigned; negativity is a
	// property of the arithmetic performed on them, not of their textual
	// form.
	ErrNegativeAmount = errors.New("amount cannot be negative")

	// ErrAmountOverflow is returned when a decimal amount string does not
	// fit in an int64 satoshi value.
	ErrAmountOverflow = errors.New("amount overflows int64 satoshis")
)

// ParseCoin converts a decimal coin string such as "0.12345678" into an exact
// satoshi amount. At most eight fractional digits are honored; any further
// digits are truncated. Scientific notation is not accepted.
func ParseCoin(s string) (btcutil.Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}

	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: %q", ErrNegativeAmount, s)
	}
	s = strings.TrimPrefix(s, "+")

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}

	// The fractional part may be empty ("3." is accepted the way
	// strconv accepts it), but neither part may contain non-digits.
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	// Truncate, not round, beyond eight fractional digits.
	if len(fracPart) > coinDecimals {
		fracPart = fracPart[:coinDecimals]
	}

	// Right-pad the fractional part so it always scales to satoshis.
	fracPart += strings.Repeat("0", coinDecimals-len(fracPart))

	whole, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}

	frac, err := strconv.ParseUint(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	const maxWhole = (1<<63 - 1) / SatoshiPerCoin
	if whole > maxWhole {
		return 0, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}

	sats := whole*SatoshiPerCoin + frac
	if sats > 1<<63-1 {
		return 0, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}

	return btcutil.Amount(sats), nil
}

// FormatCoin renders a satoshi amount as a decimal coin string with exactly
// eight fractional digits, e.g. "0.12345678". FormatCoin and ParseCoin
// round-trip exactly.
func FormatCoin(amount btcutil.Amount) string {
	sign := ""
	v := int64(amount)
	if v < 0 {
		sign = "-"
		v = -v
	}

	return fmt.Sprintf("%s%d.%08d", sign, v/SatoshiPerCoin,
		v%SatoshiPerCoin)
}

// isDigits reports whether s consists solely of ASCII digits.
func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return len(s) > 0
}
