package models

import "time"

// DateLayout is how calendar dates are stored and compared.
const DateLayout = "2006-01-02"

// Worker is a registered bot user reporting shifts for one city.
type Worker struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Language   string    `json:"language"`
	Country    string    `json:"country"`
	City       string    `json:"city"`
	CreatedAt  time.Time `json:"created_at"`
}

// DayOf formats t as a calendar date in t's own location.
func DayOf(t time.Time) string {
	return t.Format(DateLayout)
}

// CityDay is the aggregated view of one city on one day.
type CityDay struct {
	City            string
	Date            string
	Workers         int
	Submitted       int
	NonWorkingHours float64
	Hours           []int
	Counts          []int
}
