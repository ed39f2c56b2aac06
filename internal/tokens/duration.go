package tokens

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/Skotchmaster/taskhub/internal/domain"
)

var durationPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var durationUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseDuration accepts "<n><unit>" with unit one of s, m, h, d.
func ParseDuration(value string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("%q: %w", value, domain.ErrMalformedDuration)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	unit := durationUnits[m[2]]
	if err != nil || n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%q out of range: %w", value, domain.ErrMalformedDuration)
	}
	return time.Duration(n) * unit, nil
}

func ExpiryFromDuration(value string, now time.Time) (time.Time, error) {
	d, err := ParseDuration(value)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(d), nil
}
