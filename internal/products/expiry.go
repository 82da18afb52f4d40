package products

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// ExpiredText is shown in place of the countdown once the window has elapsed.
const ExpiredText = "Payment Period Has Expired"

// ExpiresAt is date + expiryDays.
func (p Product) ExpiresAt() time.Time {
	return p.Date.Add(time.Duration(p.ExpiryDays) * day)
}

// Expired reports whether now is past the availability window.
func (p Product) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt())
}

// Remaining is max(0, (date + expiryDays) - now).
func (p Product) Remaining(now time.Time) time.Duration {
	d := p.ExpiresAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Purchasable is true for published listings whose window is still open.
func (p Product) Purchasable(now time.Time) bool {
	return p.IsPublished && !p.Expired(now)
}

// Countdown renders the remaining window as "1d 2h 3m 4s".
func (p Product) Countdown(now time.Time) string {
	if p.Expired(now) {
		return ExpiredText
	}
	d := p.Remaining(now)
	days := int(d / day)
	d -= time.Duration(days) * day
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int(d / time.Second)
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}

// Status buckets a listing the way the admin dashboard filters it.
func (p Product) Status(now time.Time) string {
	switch {
	case p.Expired(now):
		return StatusExpired
	case p.IsPublished:
		return StatusActive
	default:
		return StatusInactive
	}
}
