// Package format turns token amounts, addresses and times into display strings.
package format

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TokenAmount renders an integer amount in smallest units as a decimal string
// with at most precision fractional digits, trailing zeros trimmed.
// Malformed input renders as "0".
func TokenAmount(amount string, decimals int32, precision int32) string {
	raw, err := decimal.NewFromString(amount)
	if err != nil {
		return "0"
	}
	value := raw.Shift(-decimals).Truncate(precision)
	return value.String()
}

// TokenAmountWithSymbol is TokenAmount followed by the token symbol
func TokenAmountWithSymbol(amount string, decimals int32, precision int32, symbol string) string {
	formatted := TokenAmount(amount, decimals, precision)
	if symbol == "" {
		return formatted
	}
	return formatted + " " + symbol
}

// ShortAddress abbreviates a hex address to 0x1234...abcd
func ShortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// Timestamp renders t in UTC as "2006-01-02 15:04 UTC"
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// ETA renders an estimated settlement time in seconds, e.g. "~5 min"
func ETA(seconds int) string {
	switch {
	case seconds <= 0:
		return "instant"
	case seconds < 60:
		return fmt.Sprintf("~%d sec", seconds)
	case seconds < 3600:
		return fmt.Sprintf("~%d min", (seconds+59)/60)
	default:
		return fmt.Sprintf("~%.1f h", float64(seconds)/3600)
	}
}
