package events

import (
	"strconv"
	"time"
)

// PeriodicOptions sets the period length from its component parts. A
// period of zero length means one hour.
type PeriodicOptions struct {
	Seconds int `mapstructure:"seconds"`
	Minutes int `mapstructure:"minutes"`
	Hours   int `mapstructure:"hours"`
	Days    int `mapstructure:"days"`
}

// Periodic counts fixed-length periods from its construction instant.
// Events are the period ordinals "0", "1", "2" and so on.
type Periodic struct {
	period time.Duration
	start  time.Time
	now    func() time.Time
}

// NewPeriodic returns a periodic listener whose event increments every
// period from now on.
func NewPeriodic(o PeriodicOptions) *Periodic {
	period := time.Duration(o.Seconds)*time.Second +
		time.Duration(o.Minutes)*time.Minute +
		time.Duration(o.Hours)*time.Hour +
		time.Duration(o.Days)*24*time.Hour
	if period <= 0 {
		period = time.Hour
	}
	return &Periodic{
		period: period,
		start:  time.Now(),
		now:    time.Now,
	}
}

func (p *Periodic) Event() string {
	elapsed := p.now().Sub(p.start)
	return strconv.FormatInt(int64(elapsed/p.period), 10)
}

func (p *Periodic) TimeUntilNextEvent() time.Duration {
	elapsed := p.now().Sub(p.start)
	return p.period - elapsed%p.period
}

// ValidEvent accepts any non-negative integer ordinal.
func (p *Periodic) ValidEvent(name string) bool {
	n, err := strconv.Atoi(name)
	return err == nil && n >= 0
}

// Static is the listener of modules that only act on startup, exit or
// file modification. Its single event never changes.
type Static struct{}

// NewStatic returns the static listener.
func NewStatic() *Static { return &Static{} }

func (Static) Event() string { return "static" }

// TimeUntilNextEvent approximates never with a hundred years.
func (Static) TimeUntilNextEvent() time.Duration {
	return 36500 * 24 * time.Hour
}

func (Static) ValidEvent(name string) bool { return name == "static" }
