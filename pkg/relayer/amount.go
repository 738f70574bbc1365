package relayer

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// weiToDecimalString renders a raw uint256 amount as a decimal string for
// storage in a variant payload, which keeps the full precision without
// committing the payload schema to any particular token's decimals.
func weiToDecimalString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, 0).String()
}

// decimalEqual compares two decimal strings exactly; unparseable input
// never compares equal.
func decimalEqual(a, b string) bool {
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA != nil || errB != nil {
		return false
	}
	return da.Equal(db)
}

// decimalLess reports a < b over decimal strings; unparseable input is
// treated as less so callers fail closed.
func decimalLess(a, b string) bool {
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA != nil || errB != nil {
		return true
	}
	return da.LessThan(db)
}

// satsFromDecimalWei converts a decimal wei string back to an integer
// satoshi count for the BTC-family withdrawal payloads, which track
// amounts natively in satoshis rather than wei.
func satsFromDecimalWei(weiDecimal string) uint64 {
	d, err := decimal.NewFromString(weiDecimal)
	if err != nil {
		return 0
	}
	return uint64(d.IntPart())
}
