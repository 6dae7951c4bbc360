package schedule

import "time"

// DayOffSet holds the explicit day-offs of one practitioner.
type DayOffSet map[Date]struct{}

func NewDayOffSet(dates ...Date) DayOffSet {
	s := make(DayOffSet, len(dates))
	for _, d := range dates {
		s[d] = struct{}{}
	}
	return s
}

func (s DayOffSet) Has(d Date) bool {
	_, ok := s[d]
	return ok
}

// Calendar decides whether a date may carry slots at all.
type Calendar struct {
	RestDay time.Weekday
}

func NewCalendar() Calendar {
	return Calendar{RestDay: time.Sunday}
}

func (c Calendar) IsRestDay(d Date) bool {
	return d.Weekday() == c.RestDay
}

// Bookable is the single gate shared by materialization, preview and the
// public availability read.
func (c Calendar) Bookable(d Date, dayOffs DayOffSet) bool {
	if c.IsRestDay(d) {
		return false
	}
	return !dayOffs.Has(d)
}
