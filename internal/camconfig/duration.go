package camconfig

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	plainSeconds   = regexp.MustCompile(`^\d+$`)
	unitedDuration = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([smhd])$`)
)

var unitSeconds = map[string]float64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
}

// ParseDuration parses a duration string like "30", "30s", "5m", "2h" or "1d"
// into a time.Duration. An empty string returns 0 and no error.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	if plainSeconds.MatchString(s) {
		secs, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Duration(secs) * time.Second, nil
	}

	m := unitedDuration.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration format %q: expected '30', '30s', '5m', '2h', or '1d'", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(value * unitSeconds[m[2]] * float64(time.Second)), nil
}
