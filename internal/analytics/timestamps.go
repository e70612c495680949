package analytics

import "time"

// FactTimestamp picks the business timestamp of a sales fact. The event's own
// time wins over the envelope time when it is set.
func FactTimestamp(eventAt, fallback time.Time) time.Time {
	if !eventAt.IsZero() {
		return eventAt.UTC()
	}
	return fallback.UTC()
}
