// Package events implements the listeners that drive module scheduling.
//
// A listener answers two questions: what is the current event called, and
// how long until that answer changes. The scheduler sleeps on the second
// answer and fires a module's on_event block when the first one moves.
// Variants cover solar position, daylight, weekdays, fixed periods, daily
// time intervals and a static listener that never changes.
package events

import (
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/logging"
)

// Listener type names accepted in an event_listener configuration section.
const (
	TypeStatic    = "static"
	TypeWeekday   = "weekday"
	TypePeriodic  = "periodic"
	TypeSolar     = "solar"
	TypeDaylight  = "daylight"
	TypeTimeOfDay = "time_of_day"
)

// Listener reports the current event for one module and the time
// remaining until the event changes.
type Listener interface {
	// Event returns the current event name.
	Event() string
	// TimeUntilNextEvent returns the duration until Event's result changes.
	TimeUntilNextEvent() time.Duration
	// ValidEvent reports whether name belongs to this listener's event set.
	ValidEvent(name string) bool
}

// New builds the listener declared by an event_listener options mapping.
// An absent type defaults to static. Options missing from the mapping
// take each variant's documented defaults. The force_event option pins
// the reported event to a fixed value, warning when the value is outside
// the listener's event set but honoring it in case it is intentional.
func New(options map[string]interface{}) (Listener, error) {
	var common struct {
		Type       string `mapstructure:"type"`
		ForceEvent string `mapstructure:"force_event"`
	}
	if err := decodeOptions(options, &common); err != nil {
		return nil, err
	}
	if common.Type == "" {
		common.Type = TypeStatic
	}

	var (
		listener Listener
		err      error
	)
	switch common.Type {
	case TypeStatic:
		listener = NewStatic()
	case TypeWeekday:
		listener = NewWeekday()
	case TypePeriodic:
		var o PeriodicOptions
		if err = decodeOptions(options, &o); err == nil {
			listener = NewPeriodic(o)
		}
	case TypeSolar:
		var o SolarOptions
		if err = decodeOptions(options, &o); err == nil {
			listener = NewSolar(o)
		}
	case TypeDaylight:
		var o SolarOptions
		if err = decodeOptions(options, &o); err == nil {
			listener = NewDaylight(o)
		}
	case TypeTimeOfDay:
		o := DefaultTimeOfDayOptions()
		if err = decodeOptions(options, &o); err == nil {
			listener, err = NewTimeOfDay(o)
		}
	default:
		return nil, errors.Newf(errors.ErrListenerInvalid,
			"unknown event listener type %q", common.Type)
	}
	if err != nil {
		return nil, err
	}

	if common.ForceEvent != "" {
		listener = Force(listener, common.ForceEvent)
	}
	return listener, nil
}

// Force pins the reported event to a fixed value while keeping the
// underlying listener's schedule.
func Force(listener Listener, event string) Listener {
	if !listener.ValidEvent(event) {
		logger := logging.GetLogger("events")
		logger.Warn().
			Str("force_event", event).
			Msg("force_event is not a valid event for this listener type, " +
				"still using it in case it is intentional")
	}
	return &forced{Listener: listener, event: event}
}

type forced struct {
	Listener
	event string
}

func (f *forced) Event() string { return f.event }

// IsStatic reports whether listener can never change its event, so the
// scheduler need not poll it.
func IsStatic(listener Listener) bool {
	if f, ok := listener.(*forced); ok {
		return IsStatic(f.Listener)
	}
	_, ok := listener.(*Static)
	return ok
}

func decodeOptions(options map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "could not build options decoder")
	}
	if err := decoder.Decode(options); err != nil {
		return errors.Wrap(err, errors.ErrListenerInvalid, "invalid event listener options")
	}
	return nil
}

// weekdayEvents is ordered monday first, the way configurations and the
// weekday listener's event names count days.
var weekdayEvents = []string{
	"monday",
	"tuesday",
	"wednesday",
	"thursday",
	"friday",
	"saturday",
	"sunday",
}

// weekdayIndex converts Go's sunday-first weekday to a monday-first index.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func containsEvent(events []string, name string) bool {
	return slices.Contains(events, name)
}
