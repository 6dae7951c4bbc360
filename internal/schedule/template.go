package schedule

import (
	"strings"
	"time"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

type Mode string

const (
	ModeInPerson Mode = "IN_PERSON"
	ModeOnline   Mode = "ONLINE"
)

var AllModes = []Mode{ModeInPerson, ModeOnline}

func (m Mode) Valid() bool {
	return m == ModeInPerson || m == ModeOnline
}

// ParseMode accepts the canonical names and the aliases clients send.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in_person", "in-person", "inperson", "clinic", "offline":
		return ModeInPerson, nil
	case "online", "virtual", "video":
		return ModeOnline, nil
	}
	return "", apperr.Validationf("unknown appointment mode %q", s)
}

// ParseModes parses every entry and drops duplicates, keeping order.
func ParseModes(raw []string) ([]Mode, error) {
	seen := make(map[Mode]bool, len(raw))
	modes := make([]Mode, 0, len(raw))
	for _, r := range raw {
		m, err := ParseMode(r)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		modes = append(modes, m)
	}
	return modes, nil
}

// Window is one templated wall-clock interval.
type Window struct {
	Start WallClock
	End   WallClock
}

type Interval struct {
	Start time.Time
	End   time.Time
}

func window(sh, sm, eh, em int) Window {
	return Window{Start: WallClock{Hour: sh, Minute: sm}, End: WallClock{Hour: eh, Minute: em}}
}

// DefaultTemplates: clinic mornings, online afternoons and evenings, 40 minutes each.
var DefaultTemplates = map[Mode][]Window{
	ModeInPerson: {
		window(10, 0, 10, 40),
		window(11, 0, 11, 40),
		window(12, 0, 12, 40),
	},
	ModeOnline: {
		window(14, 0, 14, 40),
		window(15, 0, 15, 40),
		window(16, 0, 16, 40),
		window(17, 0, 17, 40),
		window(18, 0, 18, 40),
		window(19, 0, 19, 40),
	},
}

// Engine turns (date, mode) into concrete instants. It does no I/O.
type Engine struct {
	zone      Zone
	templates map[Mode][]Window
}

func NewEngine(zone Zone, templates map[Mode][]Window) *Engine {
	if templates == nil {
		templates = DefaultTemplates
	}
	return &Engine{zone: zone, templates: templates}
}

func (e *Engine) Zone() Zone { return e.zone }

// Intervals returns the templated intervals of d for mode, ordered by start.
func (e *Engine) Intervals(d Date, mode Mode) []Interval {
	windows := e.templates[mode]
	out := make([]Interval, 0, len(windows))
	for _, w := range windows {
		out = append(out, Interval{
			Start: e.zone.At(d, w.Start),
			End:   e.zone.At(d, w.End),
		})
	}
	return out
}
