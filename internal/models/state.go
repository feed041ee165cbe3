package models

import "time"

// Step is the conversation state of one chat.
type Step string

const (
	StepNone             Step = ""
	StepChoosingLanguage Step = "choosing_language"
	StepChoosingCountry  Step = "choosing_country"
	StepChoosingCity     Step = "choosing_city"
	StepEnteringSchedule Step = "entering_schedule"
)

// RegistrationDraft holds answers collected before the worker is stored.
type RegistrationDraft struct {
	Language string `json:"language,omitempty"`
	Country  string `json:"country,omitempty"`
	CityPage int    `json:"city_page,omitempty"`
}

// UserState is the tagged conversation state kept per chat.
type UserState struct {
	UserID    int64             `json:"user_id"`
	Step      Step              `json:"step"`
	Draft     RegistrationDraft `json:"draft"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Registering reports whether the chat is inside the registration flow.
func (s *UserState) Registering() bool {
	if s == nil {
		return false
	}
	switch s.Step {
	case StepChoosingLanguage, StepChoosingCountry, StepChoosingCity:
		return true
	}
	return false
}
