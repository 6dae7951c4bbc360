package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

// WallClock is a time of day in the practice zone.
type WallClock struct {
	Hour   int
	Minute int
}

func ParseWallClock(s string) (WallClock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return WallClock{}, apperr.Validationf("invalid time of day %q: expected HH:MM", s)
	}
	return WallClock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c WallClock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Zone is the practice's fixed civil UTC offset. It is the only place where
// civil dates and wall clocks turn into instants.
type Zone struct {
	loc    *time.Location
	offset int
}

// FixedZone builds a zone east of UTC by offsetSeconds.
func FixedZone(offsetSeconds int) Zone {
	return Zone{
		loc:    time.FixedZone(formatOffset(offsetSeconds), offsetSeconds),
		offset: offsetSeconds,
	}
}

// ParseOffset accepts "+05:30", "-03:00", "+0530" or "Z".
func ParseOffset(s string) (Zone, error) {
	s = strings.TrimSpace(s)
	if s == "Z" || s == "" {
		return FixedZone(0), nil
	}
	if len(s) < 3 || (s[0] != '+' && s[0] != '-') {
		return Zone{}, apperr.Validationf("invalid utc offset %q", s)
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	body := strings.ReplaceAll(s[1:], ":", "")
	if len(body) != 2 && len(body) != 4 {
		return Zone{}, apperr.Validationf("invalid utc offset %q", s)
	}
	hours, err := strconv.Atoi(body[:2])
	if err != nil || hours > 14 {
		return Zone{}, apperr.Validationf("invalid utc offset %q", s)
	}
	minutes := 0
	if len(body) == 4 {
		minutes, err = strconv.Atoi(body[2:])
		if err != nil || minutes > 59 {
			return Zone{}, apperr.Validationf("invalid utc offset %q", s)
		}
	}
	return FixedZone(sign * (hours*3600 + minutes*60)), nil
}

func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d:%02d", sign, seconds/3600, (seconds%3600)/60)
}

func (z Zone) String() string { return formatOffset(z.offset) }

func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// At returns the UTC instant of wall clock c on civil date d.
func (z Zone) At(d Date, c WallClock) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, z.Location()).UTC()
}

// DayBounds returns [start, end) of civil date d as UTC instants.
func (z Zone) DayBounds(d Date) (time.Time, time.Time) {
	return z.At(d, WallClock{}), z.At(d.AddDays(1), WallClock{})
}

// DateOf returns the civil date of instant t in the practice zone.
func (z Zone) DateOf(t time.Time) Date {
	return dateFromTime(t.In(z.Location()))
}

// Label renders an interval like "10:00 AM – 10:40 AM" in the practice zone.
func (z Zone) Label(start, end time.Time) string {
	const layout = "3:04 PM"
	return start.In(z.Location()).Format(layout) + " – " + end.In(z.Location()).Format(layout)
}
