// Package shift holds the shift interval model and the parser for the
// free-form schedule text workers send to the bot.
package shift

import (
	"fmt"
)

// MaxIntervals is the number of intervals a worker may report for one day.
const MaxIntervals = 3

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Minutes returns the number of minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Less compares by (hour, minute).
func (t TimeOfDay) Less(o TimeOfDay) bool {
	return t.Minutes() < o.Minutes()
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Valid reports whether the value is a representable time of day.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// Interval is a single contiguous shift. Start strictly precedes End;
// intervals never wrap past midnight.
type Interval struct {
	Start TimeOfDay
	End   TimeOfDay
}

// DurationMinutes returns End - Start in minutes.
func (i Interval) DurationMinutes() int {
	return i.End.Minutes() - i.Start.Minutes()
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

// ShiftSet is what one worker reported for one calendar day. Intervals keep
// the order they were entered in and may overlap each other.
type ShiftSet []Interval

func (s ShiftSet) String() string {
	out := ""
	for i, iv := range s {
		if i > 0 {
			out += ", "
		}
		out += iv.String()
	}
	return out
}
