package service

import (
	"context"
	"fmt"
	"time"

	"cityshift/internal/events"
	"cityshift/internal/models"
	"cityshift/internal/occupancy"
	"cityshift/internal/shift"

	"github.com/rs/zerolog"
)

// Store is the persistence the request path and the jobs need.
type Store interface {
	CreateWorker(ctx context.Context, w *models.Worker) error
	GetWorkerByTelegramID(ctx context.Context, telegramID int64) (*models.Worker, error)
	ListWorkers(ctx context.Context) ([]models.Worker, error)
	ListDistinctCities(ctx context.Context) ([]string, error)
	CountWorkersInCity(ctx context.Context, city string) (int, error)
	SaveShiftSet(ctx context.Context, workerID int64, date string, set shift.ShiftSet) error
	FindShiftSet(ctx context.Context, workerID int64, date string) (shift.ShiftSet, bool, error)
	ListShiftSetsForCityAndDate(ctx context.Context, city, date string) ([]shift.ShiftSet, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, evType string, payload interface{}) error
}

// Submission is a stored day schedule.
type Submission struct {
	Worker *models.Worker
	Date   string
	Set    shift.ShiftSet
}

// ScheduleService handles registration, schedule submission and city
// statistics. Calendar dates are always taken in loc.
type ScheduleService struct {
	store  Store
	events EventPublisher
	loc    *time.Location
	window occupancy.Window
	logger *zerolog.Logger
	now    func() time.Time
}

func NewScheduleService(store Store, publisher EventPublisher, loc *time.Location, window occupancy.Window, logger *zerolog.Logger) *ScheduleService {
	if loc == nil {
		loc = time.UTC
	}
	l := logger.With().Str("component", "schedule_service").Logger()
	return &ScheduleService{
		store:  store,
		events: publisher,
		loc:    loc,
		window: window,
		logger: &l,
		now:    time.Now,
	}
}

// Today returns the current calendar date in the service time zone.
func (s *ScheduleService) Today() string {
	return models.DayOf(s.now().In(s.loc))
}

// Worker returns the registered worker or database.ErrWorkerNotFound.
func (s *ScheduleService) Worker(ctx context.Context, telegramID int64) (*models.Worker, error) {
	return s.store.GetWorkerByTelegramID(ctx, telegramID)
}

func (s *ScheduleService) Register(ctx context.Context, telegramID int64, language, country, city string) (*models.Worker, error) {
	w := &models.Worker{
		TelegramID: telegramID,
		Language:   language,
		Country:    country,
		City:       city,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateWorker(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("telegram_id", telegramID).Str("city", city).Msg("worker registered")
	return w, nil
}

// SubmitSchedule parses text and stores it as the worker's schedule for
// today. Parser errors are returned unchanged so callers can show them.
// A second submission on the same day fails with database.ErrDuplicateForDay.
func (s *ScheduleService) SubmitSchedule(ctx context.Context, telegramID int64, text string) (*Submission, error) {
	set, err := shift.Parse(text)
	if err != nil {
		return nil, err
	}

	worker, err := s.store.GetWorkerByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	date := s.Today()
	if err := s.store.SaveShiftSet(ctx, worker.ID, date, set); err != nil {
		return nil, err
	}

	intervals := make([]string, len(set))
	for i, iv := range set {
		intervals[i] = iv.String()
	}
	if s.events != nil {
		err := s.events.Publish(ctx, events.TypeScheduleSaved, events.ScheduleSaved{
			WorkerID:        worker.ID,
			TelegramID:      worker.TelegramID,
			City:            worker.City,
			Date:            date,
			Intervals:       intervals,
			NonWorkingHours: occupancy.NonWorkingHours(set),
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish schedule.saved")
		}
	}

	return &Submission{Worker: worker, Date: date, Set: set}, nil
}

// CityDay aggregates every schedule submitted in city on date.
func (s *ScheduleService) CityDay(ctx context.Context, city, date string) (*models.CityDay, error) {
	workers, err := s.store.CountWorkersInCity(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("count workers in %s: %w", city, err)
	}
	sets, err := s.store.ListShiftSetsForCityAndDate(ctx, city, date)
	if err != nil {
		return nil, fmt.Errorf("list schedules for %s on %s: %w", city, date, err)
	}

	hist := occupancy.BuildHistogram(sets, s.window)
	day := &models.CityDay{
		City:            city,
		Date:            date,
		Workers:         workers,
		Submitted:       len(sets),
		NonWorkingHours: occupancy.CityNonWorkingHours(sets),
	}
	for _, h := range hist.Hours() {
		day.Hours = append(day.Hours, h)
		day.Counts = append(day.Counts, hist.Count(h))
	}
	return day, nil
}

// Stats returns today's aggregate for the worker's city.
func (s *ScheduleService) Stats(ctx context.Context, telegramID int64) (*models.CityDay, error) {
	worker, err := s.store.GetWorkerByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	return s.CityDay(ctx, worker.City, s.Today())
}

// AllCityDays aggregates every city that has registered workers.
func (s *ScheduleService) AllCityDays(ctx context.Context, date string) ([]models.CityDay, error) {
	cities, err := s.store.ListDistinctCities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	days := make([]models.CityDay, 0, len(cities))
	for _, city := range cities {
		day, err := s.CityDay(ctx, city, date)
		if err != nil {
			return nil, err
		}
		days = append(days, *day)
	}
	return days, nil
}
