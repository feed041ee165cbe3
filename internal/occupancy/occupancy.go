// Package occupancy folds worker shift sets into per-hour activity counts
// and the non-working hours metric shown in city statistics.
package occupancy

import (
	"sort"

	"cityshift/internal/shift"
)

// Window is the inclusive hour range kept in a histogram.
type Window struct {
	MinHour int
	MaxHour int
}

// DefaultWindow matches the range the report chart shows.
var DefaultWindow = Window{MinHour: 6, MaxHour: 23}

// Contains reports whether hour is inside the window.
func (w Window) Contains(hour int) bool {
	return hour >= w.MinHour && hour <= w.MaxHour
}

// Histogram maps hour of day to the number of workers active in that hour.
type Histogram struct {
	window Window
	counts map[int]int
}

// Hours returns the window hours in ascending order.
func (h Histogram) Hours() []int {
	hours := make([]int, 0, len(h.counts))
	for hour := range h.counts {
		hours = append(hours, hour)
	}
	sort.Ints(hours)
	return hours
}

// Count returns the count for hour, zero outside the window.
func (h Histogram) Count(hour int) int {
	return h.counts[hour]
}

// Window returns the window the histogram was built for.
func (h Histogram) Window() Window {
	return h.window
}

// Total is the sum of all buckets (worker-hours inside the window).
func (h Histogram) Total() int {
	total := 0
	for _, c := range h.counts {
		total += c
	}
	return total
}

// Peak returns the busiest hour and its count. Ties go to the earliest hour.
func (h Histogram) Peak() (hour, count int) {
	hour = h.window.MinHour
	for _, hr := range h.Hours() {
		if h.counts[hr] > count {
			hour, count = hr, h.counts[hr]
		}
	}
	return hour, count
}

// BuildHistogram counts, for each hour h of the window, the intervals with
// start.Hour <= h < end.Hour. Minutes are ignored, so 09:10-09:50 adds nothing
// and 09:00-14:30 does not count hour 14.
func BuildHistogram(sets []shift.ShiftSet, w Window) Histogram {
	counts := make(map[int]int, w.MaxHour-w.MinHour+1)
	for hour := w.MinHour; hour <= w.MaxHour; hour++ {
		counts[hour] = 0
	}

	for _, set := range sets {
		for _, iv := range set {
			for hour := iv.Start.Hour; hour < iv.End.Hour; hour++ {
				if w.Contains(hour) {
					counts[hour]++
				}
			}
		}
	}

	return Histogram{window: w, counts: counts}
}

// NonWorkingHours returns 24 minus the reported working hours. Overlapping
// intervals are counted twice, and the result can go negative.
func NonWorkingHours(set shift.ShiftSet) float64 {
	minutes := 0
	for _, iv := range set {
		minutes += iv.DurationMinutes()
	}
	return 24 - float64(minutes)/60
}

// CityNonWorkingHours sums NonWorkingHours over every set of a city day.
func CityNonWorkingHours(sets []shift.ShiftSet) float64 {
	total := 0.0
	for _, set := range sets {
		total += NonWorkingHours(set)
	}
	return total
}
