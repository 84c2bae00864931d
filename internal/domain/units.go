package domain

import "fmt"

// Fixed-point scales. One winning share settles for exactly one currency
// unit, so one micro-share settles for one micro-unit.
const (
	MicrosPerUnit  int64 = 1_000_000
	MicrosPerShare int64 = 1_000_000

	// ShareLot is the smallest tradable CLOB quantity (0.01 share).
	ShareLot int64 = 10_000

	// Price ticks are hundredths of a currency unit.
	MinPriceTicks int64 = 1
	MaxPriceTicks int64 = 99
	TicksPerUnit  int64 = 100

	BpsDenominator int64 = 10_000

	// MaxAmount caps any single amount or quantity in a request at 100M
	// units, which keeps price and fee products well inside int64.
	MaxAmount int64 = 100_000_000 * MicrosPerUnit
)

// CheckAmount validates a currency amount or share quantity taken from a
// request.
func CheckAmount(field string, v int64) error {
	if v <= 0 {
		return Invalid(field, "must be positive")
	}
	if v > MaxAmount {
		return Invalid(field, "must not exceed %s", FormatMicros(MaxAmount))
	}
	return nil
}

// Notional returns the currency cost of qty micro-shares at price ticks.
// Exact whenever qty is a multiple of ShareLot.
func Notional(priceTicks, qty int64) int64 {
	return priceTicks * qty / TicksPerUnit
}

// FeeFor returns amount*bps/10000 rounded down, without forming the full
// product.
func FeeFor(amount, bps int64) int64 {
	if bps <= 0 || amount <= 0 {
		return 0
	}
	return amount/BpsDenominator*bps + amount%BpsDenominator*bps/BpsDenominator
}

// Units converts micro-units to a float for display and pricing math.
func Units(micros int64) float64 {
	return float64(micros) / float64(MicrosPerUnit)
}

// FormatMicros renders a micro-unit amount as a fixed 6 decimal string.
func FormatMicros(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%06d", sign, v/MicrosPerUnit, v%MicrosPerUnit)
}
