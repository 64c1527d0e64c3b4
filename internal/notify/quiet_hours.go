package notify

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"goflare.io/aegis/internal/models"
)

// ErrInvalidClock is returned for a quiet-hours bound that is not "HH:MM".
var ErrInvalidClock = errors.New("notify: time must be HH:MM")

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return h*60 + m, nil
}

// InQuietHours reports whether now, read as wall-clock time in its own
// location, falls inside q. Both bounds are inclusive; a window whose start
// is after its end wraps midnight.
func InQuietHours(q models.QuietHours, now time.Time) (bool, error) {
	if !q.Enabled {
		return false, nil
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false, err
	}

	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return start <= minute && minute <= end, nil
	}
	return minute >= start || minute <= end, nil
}
