package shift

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTooManyIntervals = errors.New("Maximum 3 time intervals are allowed")
	ErrMalformedTime    = errors.New("malformed time")
	ErrNonChronological = errors.New("start time must be before end time")
)

const formatHint = "Invalid time format. Use HH:MM-HH:MM format. Error: "

// MalformedTimeError is returned when a segment is not HH:MM-HH:MM.
// Reason carries the underlying error text unchanged.
type MalformedTimeError struct {
	Segment string
	Reason  string
}

func (e *MalformedTimeError) Error() string {
	return formatHint + e.Reason
}

func (e *MalformedTimeError) Unwrap() error { return ErrMalformedTime }

// NonChronologicalError is returned when a segment's start is not before its end.
// Its message prints both times with seconds, as "HH:MM:SS".
type NonChronologicalError struct {
	Segment string
	Start   TimeOfDay
	End     TimeOfDay
}

func (e *NonChronologicalError) Error() string {
	return fmt.Sprintf("%sStart time %s:00 must be before end time %s:00", formatHint, e.Start, e.End)
}

func (e *NonChronologicalError) Unwrap() error { return ErrNonChronological }

// Parse turns "HH:MM-HH:MM[, HH:MM-HH:MM[, HH:MM-HH:MM]]" into a ShiftSet.
func Parse(text string) (ShiftSet, error) {
	parts := strings.Split(text, ",")
	if len(parts) > MaxIntervals {
		return nil, ErrTooManyIntervals
	}

	set := make(ShiftSet, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		iv, err := parseSegment(part)
		if err != nil {
			return nil, err
		}
		set = append(set, iv)
	}
	return set, nil
}

func parseSegment(segment string) (Interval, error) {
	bounds := strings.Split(segment, "-")
	if len(bounds) != 2 {
		return Interval{}, &MalformedTimeError{
			Segment: segment,
			Reason:  fmt.Sprintf("expected 2 values separated by '-', got %d in %q", len(bounds), segment),
		}
	}

	start, err := ParseTimeOfDay(bounds[0])
	if err != nil {
		return Interval{}, &MalformedTimeError{Segment: segment, Reason: err.Error()}
	}
	end, err := ParseTimeOfDay(bounds[1])
	if err != nil {
		return Interval{}, &MalformedTimeError{Segment: segment, Reason: err.Error()}
	}

	if !start.Less(end) {
		return Interval{}, &NonChronologicalError{Segment: segment, Start: start, End: end}
	}
	return Interval{Start: start, End: end}, nil
}

// ParseTimeOfDay parses a 24-hour "HH:MM" value.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}
