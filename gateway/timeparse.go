package gateway

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// microsThreshold separates bare-integer seconds from microseconds: any
// value at or above 10^13 is already in microseconds.
const microsThreshold = 1e13

var relativePattern = regexp.MustCompile(`^(\d+)([mhdw])$`)

// parseTimeArg turns a since/until query value into microseconds since the
// epoch. Accepted forms: a bare integer (seconds below 10^13, microseconds
// at or above), an ISO-8601 timestamp with timezone, or a relative duration
// like "90m", "6h", "3d", "2w" meaning that long ago.
func parseTimeArg(raw string, now time.Time) (int64, error) {
	if raw == "" {
		return 0, nil
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("gateway: negative time %q", raw)
		}
		if n < microsThreshold {
			return n * 1e6, nil
		}
		return n, nil
	}

	if m := relativePattern.FindStringSubmatch(raw); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("gateway: relative time %q: %w", raw, err)
		}
		var unit time.Duration
		switch m[2] {
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}
		return now.Add(-time.Duration(n) * unit).UnixMicro(), nil
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMicro(), nil
	}
	return 0, fmt.Errorf("gateway: unparseable time %q", raw)
}
