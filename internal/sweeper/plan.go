package sweeper

import (
	"time"

	"github.com/transacta/paymentid/internal/products"
)

const day = 24 * time.Hour

// Plan computes the product mutations of one sweep at now. prevDay is the
// marker value before this run ("" on the first sweep); days already counted
// by that run are not decremented again.
func Plan(list []products.Product, now time.Time, prevDay string, loc *time.Location) []products.SweepUpdate {
	var lastRun time.Time
	if prevDay != "" {
		if t, err := time.ParseInLocation(DayLayout, prevDay, loc); err == nil {
			lastRun = t
		}
	}

	var updates []products.SweepUpdate
	for _, p := range list {
		anchor := p.Date
		if lastRun.After(anchor) {
			anchor = lastRun
		}
		elapsed := wholeDays(anchor, now, loc)

		days := p.ExpiryDays
		if elapsed > 0 && days > 0 {
			days = max(0, days-elapsed)
		}
		expiresAt := p.Date.Add(time.Duration(days) * day)
		unpublish := p.IsPublished && (days == 0 || now.After(expiresAt))

		if days == p.ExpiryDays && !unpublish {
			continue
		}
		updates = append(updates, products.SweepUpdate{
			ID:             p.ID,
			PrevExpiryDays: p.ExpiryDays,
			ExpiryDays:     days,
			Unpublish:      unpublish,
		})
	}
	return updates
}

// wholeDays counts the full calendar days in loc between from and to. Days
// run midnight to midnight, so a 23 or 25 hour DST day still counts as one.
func wholeDays(from, to time.Time, loc *time.Location) int {
	if !to.After(from) {
		return 0
	}
	from, to = from.In(loc), to.In(loc)
	y1, m1, d1 := from.Date()
	y2, m2, d2 := to.Date()
	n := int(time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC).Sub(time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)) / day)
	if from.AddDate(0, 0, n).After(to) {
		n--
	}
	return n
}
