package item

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// timestampLayouts are the formats seen from the upstream APIs, tried in order
// before falling back to heuristic parsing.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-07:00Z", // Pocket style offset followed by a literal Z
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 GMT", // Tumblr date-gmt
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// ParseTimestamp converts the heterogeneous upstream time representations
// (Unix epoch strings, ISO-8601 with or without fractional seconds, GMT
// strings) into a UTC time. Values without zone information are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		return FromEpoch(epoch), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	t, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

// FromEpoch converts Unix seconds to a UTC time.
func FromEpoch(epoch int64) time.Time {
	return time.Unix(epoch, 0).UTC()
}
