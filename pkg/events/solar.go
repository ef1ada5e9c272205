package events

import (
	"time"

	"github.com/sj14/astral/pkg/astral"
)

var (
	solarEvents    = []string{"sunrise", "morning", "afternoon", "sunset", "night"}
	daylightEvents = []string{"day", "night"}
)

// SolarOptions locates the observer for the solar and daylight listeners.
type SolarOptions struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Elevation float64 `mapstructure:"elevation"`
}

// Solar tracks the position of the sun at a fixed location. Events change
// at dawn, sunrise, noon, sunset and dusk.
type Solar struct {
	observer astral.Observer
	now      func() time.Time
}

// NewSolar returns a solar listener for the configured location.
func NewSolar(o SolarOptions) *Solar {
	return &Solar{
		observer: astral.Observer{
			Latitude:  o.Latitude,
			Longitude: o.Longitude,
			Elevation: o.Elevation,
		},
		now: time.Now,
	}
}

// sunTimes holds one day's solar boundaries in ascending order.
type sunTimes struct {
	dawn    time.Time
	sunrise time.Time
	noon    time.Time
	sunset  time.Time
	dusk    time.Time
}

func (s sunTimes) all() []time.Time {
	return []time.Time{s.dawn, s.sunrise, s.noon, s.sunset, s.dusk}
}

// solarTimes computes the boundaries for date's day. Near the poles the
// sun may never cross a required horizon and the ephemeris cannot produce
// every boundary; in that case all boundaries fall back to fixed local
// hours so the listener keeps cycling.
func (s *Solar) solarTimes(date time.Time) sunTimes {
	dawn, dawnErr := astral.Dawn(s.observer, date, astral.DepressionCivil)
	sunrise, sunriseErr := astral.Sunrise(s.observer, date)
	noon := astral.Noon(s.observer, date)
	sunset, sunsetErr := astral.Sunset(s.observer, date)
	dusk, duskErr := astral.Dusk(s.observer, date, astral.DepressionCivil)

	if dawnErr != nil || sunriseErr != nil || sunsetErr != nil || duskErr != nil {
		return hardcodedSun(date)
	}
	return sunTimes{dawn: dawn, sunrise: sunrise, noon: noon, sunset: sunset, dusk: dusk}
}

// hardcodedSun approximates solar boundaries with fixed local hours for
// locations where they cannot be computed.
func hardcodedSun(date time.Time) sunTimes {
	local := date.Local()
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	at := func(hour int) time.Time { return midnight.Add(time.Duration(hour) * time.Hour) }
	return sunTimes{
		dawn:    at(5),
		sunrise: at(6),
		noon:    at(12),
		sunset:  at(22),
		dusk:    at(23),
	}
}

func (s *Solar) Event() string {
	now := s.now().UTC()
	sun := s.solarTimes(now)

	switch {
	case now.Before(sun.dawn):
		return "night"
	case now.Before(sun.sunrise):
		return "sunrise"
	case now.Before(sun.noon):
		return "morning"
	case now.Before(sun.sunset):
		return "afternoon"
	case now.Before(sun.dusk):
		return "sunset"
	default:
		return "night"
	}
}

// TimeUntilNextEvent returns the duration until the next solar boundary.
// After dusk every boundary of the current day lies in the past, so the
// boundaries of the following day decide the next transition.
func (s *Solar) TimeUntilNextEvent() time.Duration {
	now := s.now().UTC()

	next, ok := nextBoundary(s.solarTimes(now), now)
	if !ok {
		tomorrow := now.Add(24*time.Hour - time.Second)
		next, _ = nextBoundary(s.solarTimes(tomorrow), now)
	}
	return next.Sub(now)
}

func (s *Solar) ValidEvent(name string) bool {
	return containsEvent(solarEvents, name)
}

func nextBoundary(sun sunTimes, now time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	for _, instant := range sun.all() {
		if !instant.After(now) {
			continue
		}
		if !found || instant.Before(next) {
			next = instant
			found = true
		}
	}
	return next, found
}

// Daylight collapses the solar events down to day and night.
type Daylight struct {
	solar *Solar
}

// NewDaylight returns a daylight listener for the configured location.
func NewDaylight(o SolarOptions) *Daylight {
	return &Daylight{solar: NewSolar(o)}
}

func (d *Daylight) Event() string {
	if d.solar.Event() == "night" {
		return "night"
	}
	return "day"
}

// TimeUntilNextEvent returns the duration until the next dawn or dusk
// crossing, rolling over to the following day's boundary when today's has
// already passed.
func (d *Daylight) TimeUntilNextEvent() time.Duration {
	now := d.solar.now().UTC()
	night := d.Event() == "night"

	crossing := d.crossing(d.solar.solarTimes(now), night)
	if !crossing.After(now) {
		tomorrow := now.Add(24*time.Hour - time.Second)
		crossing = d.crossing(d.solar.solarTimes(tomorrow), night)
	}
	return crossing.Sub(now)
}

func (d *Daylight) crossing(sun sunTimes, night bool) time.Time {
	if night {
		return sun.dawn
	}
	return sun.dusk
}

func (d *Daylight) ValidEvent(name string) bool {
	return containsEvent(daylightEvents, name)
}
