package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseISO8601Duration parses the restricted "PT<n>H<n>M<n>S" form
// interval schedules use. An empty or malformed duration is rejected
// with an error; the caller logs it as a warning and refuses the
// schedule.
func parseISO8601Duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("scheduler: empty interval duration")
	}
	if !strings.HasPrefix(s, "PT") {
		return 0, fmt.Errorf("scheduler: interval duration %q must start with \"PT\"", s)
	}
	rest := s[2:]
	if rest == "" {
		return 0, fmt.Errorf("scheduler: interval duration %q has no components", s)
	}

	var total time.Duration
	var num strings.Builder
	seenComponent := false
	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9':
			num.WriteRune(r)
		case r == 'H' || r == 'M' || r == 'S':
			if num.Len() == 0 {
				return 0, fmt.Errorf("scheduler: interval duration %q has %q with no preceding number", s, r)
			}
			n, err := strconv.Atoi(num.String())
			if err != nil {
				return 0, fmt.Errorf("scheduler: interval duration %q: %w", s, err)
			}
			switch r {
			case 'H':
				total += time.Duration(n) * time.Hour
			case 'M':
				total += time.Duration(n) * time.Minute
			case 'S':
				total += time.Duration(n) * time.Second
			}
			num.Reset()
			seenComponent = true
		default:
			return 0, fmt.Errorf("scheduler: interval duration %q contains unsupported unit %q", s, r)
		}
	}
	if num.Len() > 0 {
		return 0, fmt.Errorf("scheduler: interval duration %q has a trailing number with no unit", s)
	}
	if !seenComponent || total <= 0 {
		return 0, fmt.Errorf("scheduler: interval duration %q must be positive", s)
	}
	return total, nil
}
