package account

import "fmt"

// Millicents is the fixed-point unit for sub-cent amounts: 1000 millicents
// equal one cent. Tool costs and the pending fractional accumulator are held
// in millicents so repeated aggregation cannot drift the way a float field
// would.
type Millicents int64

const MillicentsPerCent = 1000

// CentsToMillicents converts a whole-cent amount.
func CentsToMillicents(cents int64) Millicents {
	return Millicents(cents * MillicentsPerCent)
}

// WholeCents returns the chargeable whole-cent portion.
func (m Millicents) WholeCents() int64 {
	return int64(m) / MillicentsPerCent
}

// Remainder returns the sub-cent portion left after removing whole cents.
func (m Millicents) Remainder() Millicents {
	return m % MillicentsPerCent
}

// Cents renders the amount as a decimal cent string, e.g. 300 -> "0.3",
// 1200 -> "1.2", 1000 -> "1". Used only for display; arithmetic stays in
// integer millicents.
func (m Millicents) Cents() string {
	whole := int64(m) / MillicentsPerCent
	frac := int64(m) % MillicentsPerCent
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := fmt.Sprintf("%d.%03d", whole, frac)
	// Trim trailing zeros from the fractional part.
	for s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s
}
