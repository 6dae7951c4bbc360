package schedule

import (
	"fmt"
	"time"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

const dateLayout = "2006-01-02"

// Date is a civil calendar date with no time of day and no offset.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return dateFromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, apperr.Validationf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return dateFromTime(t), nil
}

func dateFromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) AddDays(n int) Date {
	return dateFromTime(d.utcMidnight().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool { return d.utcMidnight().Before(o.utcMidnight()) }

func (d Date) After(o Date) bool { return d.utcMidnight().After(o.utcMidnight()) }

// Weekday is the civil weekday; it does not depend on any zone.
func (d Date) Weekday() time.Weekday { return d.utcMidnight().Weekday() }

// Time returns midnight UTC of d, the representation used for DATE columns.
func (d Date) Time() time.Time { return d.utcMidnight() }

// DateFromTime reads the Y-M-D fields of t as written, ignoring its location.
// Use it for values scanned from DATE columns.
func DateFromTime(t time.Time) Date { return dateFromTime(t) }

func (d Date) utcMidnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DatesBetween returns every date in [start, end].
func DatesBetween(start, end Date) ([]Date, error) {
	if end.Before(start) {
		return nil, apperr.Validationf("end date %s is before start date %s", end, start)
	}
	var dates []Date
	for cur := start; !cur.After(end); cur = cur.AddDays(1) {
		dates = append(dates, cur)
	}
	return dates, nil
}
