package domain

import "time"

// Renew resets the balance and advances the renewal date by one period.
func Renew(sl ServiceLevel, now time.Time) ServiceLevel {
	now = now.UTC()
	sl.RemainingMinutes = sl.TimeVolumeMinutes
	sl.LastRenewedAt = &now

	base := now
	if sl.NextRenewalAt != nil && !sl.NextRenewalAt.IsZero() {
		base = sl.NextRenewalAt.UTC()
	}

	if sl.RenewalDay < 1 || sl.RenewalDay > 31 {
		sl.RenewalDay = base.Day()
	}

	months := 1
	if sl.RenewalType == RenewalYearly {
		months = 12
	}
	next := addMonthsOnDay(base, months, sl.RenewalDay)
	sl.NextRenewalAt = &next
	return sl
}

// AddMonthsClamped moves t forward by n months, clamping the day to the end
// of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonthsClamped(t time.Time, n int) time.Time {
	return addMonthsOnDay(t, n, t.Day())
}

// addMonthsOnDay lands on day of the target month, or its last day when the
// month is shorter. A clamped date therefore returns to day later on.
func addMonthsOnDay(t time.Time, n, day int) time.Time {
	year, month, _ := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
