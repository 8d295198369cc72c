package database

import (
	"time"
)

// Subscription is a push notification registration. The payload is the opaque
// subscription JSON handed over by the browser.
type Subscription struct {
	ID               int64
	Subscription     string
	UserAgent        string
	SubscriptionDate time.Time
	LastNotification *time.Time
	InvalidationDate *time.Time
}

// Since returns the point after which items have not been notified yet.
func (s Subscription) Since() time.Time {
	if s.LastNotification != nil {
		return *s.LastNotification
	}
	if !s.SubscriptionDate.IsZero() {
		return s.SubscriptionDate
	}
	return time.Now().UTC().Add(-24 * time.Hour)
}

func (s Subscription) Active() bool {
	return s.InvalidationDate == nil
}

// timestampLayout is fixed width so that text comparison in SQL matches
// chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timestampLayout, s, time.UTC)
}
