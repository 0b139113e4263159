package common

import (
	"github.com/cockroachdb/apd"
)

// TokenDecimals is the number of decimals between the ledger's smallest
// denomination and its token unit.
const TokenDecimals = 12

// FormatAmount renders an amount given in the smallest denomination as a
// decimal number of token units, without trailing zeros.
func FormatAmount(amount BigInt, decimals int32) string {
	if amount.Sign() == 0 {
		return "0"
	}
	d := &apd.Decimal{Exponent: -decimals}
	d.Coeff.Abs(&amount.Int)
	d.Negative = amount.Sign() < 0

	var reduced apd.Decimal
	reduced.Reduce(d)
	return reduced.Text('f')
}
