package bot

import (
	"context"
	"time"

	"cityshift/internal/models"
	"cityshift/internal/service"
	"cityshift/shared/scheduler"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type ScheduleManager interface {
	Today() string
	Worker(ctx context.Context, telegramID int64) (*models.Worker, error)
	Register(ctx context.Context, telegramID int64, language, country, city string) (*models.Worker, error)
	SubmitSchedule(ctx context.Context, telegramID int64, text string) (*service.Submission, error)
	Stats(ctx context.Context, telegramID int64) (*models.CityDay, error)
	AllCityDays(ctx context.Context, date string) ([]models.CityDay, error)
}

type StateManager interface {
	GetUserState(ctx context.Context, userID int64) (*models.UserState, error)
	SetUserState(ctx context.Context, userID int64, step models.Step, draft models.RegistrationDraft) error
	ClearUserState(ctx context.Context, userID int64) error
	CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}

// ReportRunner fires a scheduler loop on demand.
type ReportRunner interface {
	RunNow(ctx context.Context, name string) (scheduler.RunStats, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
