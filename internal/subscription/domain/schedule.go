package domain

import "time"

// Billing-date arithmetic. Month-based frequencies anchor on a day of the
// month and clamp it to the last day of short months; week-based ones are
// plain day offsets from the previous occurrence.

func monthBased(f Frequency) bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	default:
		return false
	}
}

func periodMonths(f Frequency) int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencyYearly:
		return 12
	default:
		return 0
	}
}

func periodDays(f Frequency) int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyBiweekly:
		return 14
	default:
		return 0
	}
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampedDate(year int, month time.Month, day int, ref time.Time) time.Time {
	// Normalize month overflow before clamping the day.
	norm := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	year, month = norm.Year(), norm.Month()
	if max := daysInMonth(year, month); day > max {
		day = max
	}
	h, m, s := ref.Clock()
	return time.Date(year, month, day, h, m, s, ref.Nanosecond(), time.UTC)
}

// FirstBillingDate computes the initial next-billing-date for a new
// subscription. With a billing day on a month-based frequency, it is the
// next calendar date matching that day on or after start (clamped to the
// month's length); otherwise billing starts at start itself.
func FirstBillingDate(start time.Time, f Frequency, billingDay *int16) time.Time {
	start = start.UTC()
	if !monthBased(f) || billingDay == nil {
		return start
	}

	day := int(*billingDay)
	candidate := clampedDate(start.Year(), start.Month(), day, start)
	if candidate.Before(start) {
		candidate = clampedDate(start.Year(), start.Month()+1, day, start)
	}
	return candidate
}

// NextBillingDate advances one period past current. Month-based frequencies
// reapply the billing-day clamp in the target month; without an explicit
// billing day the anchor is the current occurrence's day, so a Jan 31
// monthly subscription lands on Feb 28/29 and stays clamped afterwards.
func NextBillingDate(current time.Time, f Frequency, billingDay *int16) time.Time {
	current = current.UTC()
	if months := periodMonths(f); months > 0 {
		day := current.Day()
		if billingDay != nil {
			day = int(*billingDay)
		}
		return clampedDate(current.Year(), current.Month()+time.Month(months), day, current)
	}
	return current.AddDate(0, 0, periodDays(f))
}
