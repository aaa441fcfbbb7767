// Package tax computes VAT amounts for invoices. Amounts are integer minor
// units of the invoice currency; rates are percentages (21 means 21%).
package tax

import "math"

// Compute returns the VAT amount and gross total for a subtotal at the
// given percentage rate. Rounding happens only here, half-up to the minor
// unit, so line-item sums and single charges never diverge.
func Compute(subtotal int64, ratePercent float64) (vatAmount int64, total int64) {
	vatAmount = computeVAT(subtotal, ratePercent)
	return vatAmount, subtotal + vatAmount
}

func computeVAT(subtotal int64, ratePercent float64) int64 {
	if subtotal <= 0 || ratePercent <= 0 {
		return 0
	}

	vat := float64(subtotal) * ratePercent / 100
	result := int64(math.Round(vat))
	if result < 0 {
		return 0
	}
	return result
}
