package occupancy

import (
	"testing"

	"cityshift/internal/shift"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) shift.ShiftSet {
	t.Helper()
	set, err := shift.Parse(s)
	require.NoError(t, err)
	return set
}

func TestBuildHistogram_SingleInterval(t *testing.T) {
	h := BuildHistogram([]shift.ShiftSet{mustParse(t, "09:00-11:00")}, DefaultWindow)

	assert.Len(t, h.Hours(), 18)
	for _, hour := range h.Hours() {
		want := 0
		if hour == 9 || hour == 10 {
			want = 1
		}
		assert.Equal(t, want, h.Count(hour), "hour %d", hour)
	}
}

func TestBuildHistogram_SubHourIntervalCountsNothing(t *testing.T) {
	h := BuildHistogram([]shift.ShiftSet{mustParse(t, "09:10-09:50")}, DefaultWindow)
	assert.Equal(t, 0, h.Total())
}

func TestBuildHistogram_MinutesIgnored(t *testing.T) {
	h := BuildHistogram([]shift.ShiftSet{mustParse(t, "08:45-14:30")}, DefaultWindow)

	assert.Equal(t, 1, h.Count(8))
	assert.Equal(t, 1, h.Count(13))
	assert.Equal(t, 0, h.Count(14))
}

func TestBuildHistogram_WindowDropsOutsideHours(t *testing.T) {
	h := BuildHistogram([]shift.ShiftSet{mustParse(t, "02:00-08:00, 22:00-23:59")}, DefaultWindow)

	assert.Equal(t, 0, h.Count(2))
	assert.Equal(t, 1, h.Count(6))
	assert.Equal(t, 1, h.Count(7))
	assert.Equal(t, 1, h.Count(22))
	assert.Equal(t, 0, h.Count(23))
	assert.Equal(t, []int{6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23}, h.Hours())
	assert.Equal(t, 3, h.Total())
}

func TestBuildHistogram_OrderIndependent(t *testing.T) {
	a := mustParse(t, "09:00-11:00, 15:00-20:00")
	b := mustParse(t, "10:00-12:00")
	c := mustParse(t, "06:00-07:00, 07:00-09:00")

	h1 := BuildHistogram([]shift.ShiftSet{a, b, c}, DefaultWindow)
	h2 := BuildHistogram([]shift.ShiftSet{c, a, b}, DefaultWindow)
	assert.Equal(t, h1, h2)

	hour, count := h1.Peak()
	assert.Equal(t, 10, hour)
	assert.Equal(t, 2, count)
}

func TestBuildHistogram_EmptyInput(t *testing.T) {
	h := BuildHistogram(nil, Window{MinHour: 0, MaxHour: 23})
	assert.Len(t, h.Hours(), 24)
	assert.Equal(t, 0, h.Total())

	hour, count := h.Peak()
	assert.Equal(t, 0, hour)
	assert.Equal(t, 0, count)
}

func TestBuildHistogram_EndToEndScenario(t *testing.T) {
	h := BuildHistogram([]shift.ShiftSet{mustParse(t, "09:00-11:00, 15:00-20:00")}, DefaultWindow)
	for _, hour := range []int{9, 10, 15, 16, 17, 18, 19} {
		assert.Equal(t, 1, h.Count(hour), "hour %d", hour)
	}
	assert.Equal(t, 7, h.Total())
}

func TestNonWorkingHours(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{"eight hours", "09:00-17:00", 16.0},
		{"duplicate intervals counted twice", "09:00-10:00, 09:00-10:00", 22.0},
		{"half hour", "09:00-09:30", 23.5},
		{"three intervals", "06:00-10:00, 12:00-16:00, 18:00-22:00", 12.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NonWorkingHours(mustParse(t, tt.input)), 1e-9)
		})
	}

	assert.Equal(t, 24.0, NonWorkingHours(nil))
}

func TestNonWorkingHours_CanGoNegative(t *testing.T) {
	set := mustParse(t, "00:00-23:59, 00:00-23:59")
	assert.Less(t, NonWorkingHours(set), 0.0)
}

func TestCityNonWorkingHours_IsSum(t *testing.T) {
	sets := []shift.ShiftSet{
		mustParse(t, "09:00-17:00"),
		mustParse(t, "09:00-10:00, 09:00-10:00"),
	}
	assert.InDelta(t, 38.0, CityNonWorkingHours(sets), 1e-9)
	assert.Equal(t, 0.0, CityNonWorkingHours(nil))
}
