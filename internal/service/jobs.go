package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cityshift/internal/events"
	"cityshift/internal/models"
	"cityshift/shared/scheduler"

	"github.com/rs/zerolog"
)

const (
	NotifyLoop = "notify"
	ReportLoop = "report"

	// MidnightText is sent to every worker when a new day starts.
	MidnightText = "A new day has started. Please submit your work schedule with /schedule."
)

// NotificationSender delivers a text message to a worker.
type NotificationSender interface {
	Send(ctx context.Context, telegramID int64, text string) error
}

// ReportSender delivers a city report image to an admin.
type ReportSender interface {
	SendReport(ctx context.Context, adminID int64, city string, png []byte, caption string) error
}

// ChartRenderer turns an aggregated city day into a PNG image.
type ChartRenderer interface {
	RenderPNG(day models.CityDay) ([]byte, error)
}

// Deliverer paces and retries a single outbound send.
type Deliverer interface {
	Deliver(ctx context.Context, loop, key string, send func(ctx context.Context) error) error
}

// ReportCaption is the caption attached to a city report image.
func ReportCaption(day models.CityDay) string {
	return fmt.Sprintf("%s %s: workers %d, non-working hours %.1f",
		day.City, day.Date, day.Workers, day.NonWorkingHours)
}

// NotifyJob sends the new-day reminder to every registered worker.
type NotifyJob struct {
	store     Store
	sender    NotificationSender
	deliverer Deliverer
	text      string
}

func NewNotifyJob(store Store, sender NotificationSender, deliverer Deliverer) *NotifyJob {
	return &NotifyJob{store: store, sender: sender, deliverer: deliverer, text: MidnightText}
}

func (j *NotifyJob) Name() string { return NotifyLoop }

func (j *NotifyJob) Tasks(ctx context.Context, _ time.Time) ([]scheduler.Task, error) {
	workers, err := j.store.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	tasks := make([]scheduler.Task, 0, len(workers))
	for _, w := range workers {
		chatID := w.TelegramID
		key := "worker:" + strconv.FormatInt(chatID, 10)
		tasks = append(tasks, scheduler.Task{
			Key: key,
			Run: func(ctx context.Context) error {
				return j.deliverer.Deliver(ctx, NotifyLoop, key, func(ctx context.Context) error {
					return j.sender.Send(ctx, chatID, j.text)
				})
			},
		})
	}
	return tasks, nil
}

// ReportJob renders each city's histogram for the firing day and sends it
// to every admin.
type ReportJob struct {
	svc       *ScheduleService
	renderer  ChartRenderer
	sender    ReportSender
	deliverer Deliverer
	events    EventPublisher
	admins    []int64
	logger    *zerolog.Logger
}

func NewReportJob(
	svc *ScheduleService,
	renderer ChartRenderer,
	sender ReportSender,
	deliverer Deliverer,
	publisher EventPublisher,
	admins []int64,
	logger *zerolog.Logger,
) *ReportJob {
	l := logger.With().Str("component", "report_job").Logger()
	return &ReportJob{
		svc:       svc,
		renderer:  renderer,
		sender:    sender,
		deliverer: deliverer,
		events:    publisher,
		admins:    admins,
		logger:    &l,
	}
}

func (j *ReportJob) Name() string { return ReportLoop }

func (j *ReportJob) Tasks(ctx context.Context, now time.Time) ([]scheduler.Task, error) {
	if len(j.admins) == 0 {
		j.logger.Warn().Msg("no admins configured, skipping report")
		return nil, nil
	}

	cities, err := j.svc.store.ListDistinctCities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}

	date := models.DayOf(now.In(j.svc.loc))
	tasks := make([]scheduler.Task, 0, len(cities))
	for _, city := range cities {
		city := city
		tasks = append(tasks, scheduler.Task{
			Key: "city:" + city,
			Run: func(ctx context.Context) error {
				return j.reportCity(ctx, city, date)
			},
		})
	}
	return tasks, nil
}

func (j *ReportJob) reportCity(ctx context.Context, city, date string) error {
	day, err := j.svc.CityDay(ctx, city, date)
	if err != nil {
		return err
	}
	png, err := j.renderer.RenderPNG(*day)
	if err != nil {
		return fmt.Errorf("render chart for %s: %w", city, err)
	}
	caption := ReportCaption(*day)

	var errs []error
	for _, adminID := range j.admins {
		adminID := adminID
		key := "city:" + city + ":admin:" + strconv.FormatInt(adminID, 10)
		err := j.deliverer.Deliver(ctx, ReportLoop, key, func(ctx context.Context) error {
			return j.sender.SendReport(ctx, adminID, city, png, caption)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", adminID, err))
			continue
		}
		if j.events != nil {
			_ = j.events.Publish(ctx, events.TypeReportSent, events.ReportSent{
				AdminID:         adminID,
				City:            day.City,
				Date:            day.Date,
				Workers:         day.Workers,
				Submitted:       day.Submitted,
				NonWorkingHours: day.NonWorkingHours,
				Hours:           day.Hours,
				Counts:          day.Counts,
			})
		}
	}
	return errors.Join(errs...)
}
