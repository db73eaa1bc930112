package httpx

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTimeParam accepts RFC3339, a bare local datetime or epoch seconds.
// An empty or unparseable param yields defaultTime.
func ParseTimeParam(param string, defaultTime time.Time) time.Time {
	if param == "" {
		return defaultTime
	}

	// Try RFC3339 format
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t
	}

	// Try simple datetime format
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", param, time.Local); err == nil {
		return t
	}

	// Try Unix timestamp
	if ts, err := strconv.ParseInt(param, 10, 64); err == nil {
		return time.Unix(ts, 0)
	}

	return defaultTime
}

// IntParam parses an optional non-negative integer query parameter.
func IntParam(param string, def int) (int, error) {
	if param == "" {
		return def, nil
	}
	n, err := strconv.Atoi(param)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", param)
	}
	if n < 0 {
		return 0, fmt.Errorf("%d must not be negative", n)
	}
	return n, nil
}
