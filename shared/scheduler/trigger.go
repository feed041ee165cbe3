package scheduler

import (
	"fmt"
	"time"
)

// Trigger decides whether a recurring action is due at a given wall-clock
// minute. Implementations only look at now.Hour() and now.Minute(); the caller
// converts now into the scheduler's time zone first.
type Trigger interface {
	ShouldFire(now time.Time) bool
	String() string
}

// ExactMinute fires once a day at Hour:Minute.
type ExactMinute struct {
	Hour   int
	Minute int
}

func (t ExactMinute) ShouldFire(now time.Time) bool {
	return now.Hour() == t.Hour && now.Minute() == t.Minute
}

func (t ExactMinute) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// HourSet fires at Minute of every hour listed in Hours. Values outside 0-23
// are kept as configured and simply never match.
type HourSet struct {
	Hours  []int
	Minute int
}

func (t HourSet) ShouldFire(now time.Time) bool {
	if now.Minute() != t.Minute {
		return false
	}
	for _, h := range t.Hours {
		if now.Hour() == h {
			return true
		}
	}
	return false
}

func (t HourSet) String() string {
	return fmt.Sprintf("hours %v at :%02d", t.Hours, t.Minute)
}

var (
	// MidnightTrigger starts the daily worker notification.
	MidnightTrigger = ExactMinute{Hour: 0, Minute: 0}

	// ReportTrigger drives the admin report. 24 is not an hour of day and
	// never fires; it is left as deployed.
	ReportTrigger = HourSet{Hours: []int{8, 15, 21, 24}, Minute: 0}
)

// ShouldFireIn converts now into loc and asks t.
func ShouldFireIn(t Trigger, loc *time.Location, now time.Time) bool {
	return t.ShouldFire(now.In(loc))
}
