package events

import (
	"strings"
	"time"

	"github.com/heliod-dev/heliod/pkg/errors"
)

var timeOfDayEvents = []string{"on", "off"}

// Weekday reports the current local weekday name, monday through sunday.
type Weekday struct {
	now func() time.Time
}

// NewWeekday returns a weekday listener.
func NewWeekday() *Weekday {
	return &Weekday{now: time.Now}
}

func (w *Weekday) Event() string {
	return weekdayEvents[weekdayIndex(w.now())]
}

// TimeUntilNextEvent returns the duration until the next local midnight.
func (w *Weekday) TimeUntilNextEvent() time.Duration {
	now := w.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return midnight.AddDate(0, 0, 1).Sub(now)
}

func (w *Weekday) ValidEvent(name string) bool {
	return containsEvent(weekdayEvents, name)
}

// TimeOfDayOptions holds one "HH:MM-HH:MM" interval per weekday. A blank
// interval means the weekday has no on period.
type TimeOfDayOptions struct {
	Monday    string `mapstructure:"monday"`
	Tuesday   string `mapstructure:"tuesday"`
	Wednesday string `mapstructure:"wednesday"`
	Thursday  string `mapstructure:"thursday"`
	Friday    string `mapstructure:"friday"`
	Saturday  string `mapstructure:"saturday"`
	Sunday    string `mapstructure:"sunday"`
}

// DefaultTimeOfDayOptions is nine to five on weekdays, weekends off.
func DefaultTimeOfDayOptions() TimeOfDayOptions {
	return TimeOfDayOptions{
		Monday:    "09:00-17:00",
		Tuesday:   "09:00-17:00",
		Wednesday: "09:00-17:00",
		Thursday:  "09:00-17:00",
		Friday:    "09:00-17:00",
		Saturday:  "",
		Sunday:    "",
	}
}

// workday is an inclusive interval in minutes into the day.
type workday struct {
	start int
	end   int
}

// TimeOfDay reports on during each weekday's configured interval and off
// outside it.
type TimeOfDay struct {
	workdays map[int]workday
	now      func() time.Time
}

// NewTimeOfDay builds a listener from the given intervals, exactly as
// set: blank weekdays stay off. New applies the nine-to-five defaults for
// options absent from the configuration.
func NewTimeOfDay(o TimeOfDayOptions) (*TimeOfDay, error) {
	intervals := []string{
		o.Monday, o.Tuesday, o.Wednesday, o.Thursday, o.Friday, o.Saturday, o.Sunday,
	}

	t := &TimeOfDay{workdays: map[int]workday{}, now: time.Now}
	for i, interval := range intervals {
		if interval == "" {
			continue
		}
		day, err := parseWorkday(interval)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrListenerInvalid,
				"invalid %s interval %q", weekdayEvents[i], interval)
		}
		t.workdays[i] = day
	}
	return t, nil
}

func parseWorkday(interval string) (workday, error) {
	from, to, ok := strings.Cut(interval, "-")
	if !ok {
		return workday{}, errors.New(errors.ErrListenerInvalid, "expected HH:MM-HH:MM")
	}
	start, err := parseClock(from)
	if err != nil {
		return workday{}, err
	}
	end, err := parseClock(to)
	if err != nil {
		return workday{}, err
	}
	return workday{start: start, end: end}, nil
}

// parseClock converts "HH:MM" into minutes into the day.
func parseClock(s string) (int, error) {
	clock, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrListenerInvalid, "invalid clock time")
	}
	return clock.Hour()*60 + clock.Minute(), nil
}

func (t *TimeOfDay) Event() string {
	now := t.now()
	day, ok := t.workdays[weekdayIndex(now)]
	if !ok {
		return "off"
	}
	minute := now.Hour()*60 + now.Minute()
	if minute >= day.start && minute <= day.end {
		return "on"
	}
	return "off"
}

// TimeUntilNextEvent returns the duration until the interval boundary
// that flips the event: the end of the running interval, the start of a
// later interval today, or the start of the next configured weekday,
// wrapping across the week when necessary. The extra minute guarantees
// the boundary has passed when the scheduler wakes up.
func (t *TimeOfDay) TimeUntilNextEvent() time.Duration {
	now := t.now()
	today := weekdayIndex(now)
	minute := now.Hour()*60 + now.Minute()

	if day, ok := t.workdays[today]; ok {
		switch {
		case minute >= day.start && minute <= day.end:
			return minutesFromNow(day.end - minute + 1)
		case minute < day.start:
			return minutesFromNow(day.start - minute + 1)
		}
	}

	for offset := 1; offset <= 7; offset++ {
		day, ok := t.workdays[(today+offset)%7]
		if !ok {
			continue
		}
		return minutesFromNow(offset*24*60 + day.start - minute + 1)
	}

	// No interval on any weekday: permanently off.
	return 36500 * 24 * time.Hour
}

func (t *TimeOfDay) ValidEvent(name string) bool {
	return containsEvent(timeOfDayEvents, name)
}

func minutesFromNow(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
