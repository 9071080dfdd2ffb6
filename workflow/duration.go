package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration converts one of the relative-time expressions a workflow
// passes to Context.Wait into a time.Duration. The accepted grammar is
// "N unit" where N is a non-negative integer and unit is one of
// second(s), minute(s), hour(s), day(s) or week(s) — e.g. "7 days",
// "30 minutes", "0 seconds". This is the closed set the store's clock
// arithmetic is defined over; anything else is rejected so a typo in a
// workflow body fails fast instead of silently waiting the wrong amount of
// time.
func ParseDuration(expr string) (time.Duration, error) {
	fields := strings.Fields(expr)
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid duration expression %q: want \"N unit\"", expr)
	}

	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration expression %q: amount must be a non-negative integer", expr)
	}

	unit := strings.TrimSuffix(strings.ToLower(fields[1]), "s")
	var perUnit time.Duration
	switch unit {
	case "second":
		perUnit = time.Second
	case "minute":
		perUnit = time.Minute
	case "hour":
		perUnit = time.Hour
	case "day":
		perUnit = 24 * time.Hour
	case "week":
		perUnit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid duration expression %q: unit must be one of second|minute|hour|day|week", expr)
	}

	return time.Duration(n) * perUnit, nil
}
