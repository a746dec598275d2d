package refresh

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Interval is a parsed alliance refresh cadence: either a positive minute
// count or a daily wall-clock time ("@HH:MM").
type Interval struct {
	// Minutes is the repeat period; zero when Daily is set.
	Minutes int
	Daily   bool
	Hour    int
	Minute  int
}

// ParseInterval parses the stored interval string. Valid forms are a positive
// integer minute count ("60") and a daily time ("@03:30").
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Interval{}, fmt.Errorf("refresh: empty interval")
	}

	if strings.HasPrefix(s, "@") {
		parts := strings.SplitN(s[1:], ":", 2)
		if len(parts) != 2 {
			return Interval{}, fmt.Errorf("refresh: invalid daily interval %q", s)
		}
		hour, err := strconv.Atoi(parts[0])
		if err != nil || hour < 0 || hour > 23 {
			return Interval{}, fmt.Errorf("refresh: invalid hour in %q", s)
		}
		minute, err := strconv.Atoi(parts[1])
		if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
			return Interval{}, fmt.Errorf("refresh: invalid minute in %q", s)
		}
		return Interval{Daily: true, Hour: hour, Minute: minute}, nil
	}

	minutes, err := strconv.Atoi(s)
	if err != nil || minutes <= 0 {
		return Interval{}, fmt.Errorf("refresh: invalid minute interval %q", s)
	}
	return Interval{Minutes: minutes}, nil
}

// FormatInterval renders the interval back to its stored string form.
// ParseInterval(FormatInterval(x)) == x for every valid interval.
func FormatInterval(iv Interval) string {
	if iv.Daily {
		return fmt.Sprintf("@%02d:%02d", iv.Hour, iv.Minute)
	}
	return strconv.Itoa(iv.Minutes)
}

// NextFire computes the next fire time after now. Minute intervals fire a
// fixed period from now; daily intervals fire at the next local occurrence of
// HH:MM, using the cron schedule machinery so DST transitions behave.
func NextFire(iv Interval, now time.Time) time.Time {
	if !iv.Daily {
		return now.Add(time.Duration(iv.Minutes) * time.Minute)
	}

	spec := fmt.Sprintf("%d %d * * *", iv.Minute, iv.Hour)
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		// Unreachable for a validated interval; fall back to 24h.
		return now.Add(24 * time.Hour)
	}
	return sched.Next(now)
}
