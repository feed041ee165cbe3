package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"cityshift/internal/database"
	"cityshift/internal/export"
	"cityshift/internal/metrics"
	"cityshift/internal/models"
	"cityshift/internal/service"
	"cityshift/internal/shift"
	"cityshift/shared/scheduler"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	helpText = "Commands:\n" +
		"/start - register or open the main menu\n" +
		"/schedule - submit today's work schedule\n" +
		"/stats - statistics for your city\n" +
		"/cancel - cancel the current step"
	unknownCommandText = "Unknown command. Use /schedule or /stats."
	notRegisteredText  = "You are not registered yet. Send /start to register."
	schedulePrompt     = "Please enter your work schedule for today in format:\n" +
		"HH:MM-HH:MM[, HH:MM-HH:MM[, HH:MM-HH:MM]]\n" +
		"Example: 09:00-11:00, 15:00-20:00"
	duplicateText = "You have already submitted your schedule for today. " +
		"Please wait until tomorrow to submit a new schedule."
	reportStartedText = "Report started. You will get a summary when it finishes."
	reportRunningText = "A report is already running. Please wait for its summary."
)

// statsText formats a city's statistics for today.
func statsText(day *models.CityDay) string {
	return fmt.Sprintf("Statistics for %s:\nTotal users: %d\nTotal non-working hours today: %.1f",
		day.City, day.Workers, day.NonWorkingHours)
}

func (b *Bot) handleStart(ctx context.Context, chatID, userID int64) {
	_ = b.state.ClearUserState(ctx, userID)

	_, err := b.schedules.Worker(ctx, userID)
	if err == nil {
		b.replyWithMarkup(ctx, chatID, "Main Menu", mainMenu)
		return
	}
	if !errors.Is(err, database.ErrWorkerNotFound) {
		b.replyError(ctx, chatID, err)
		return
	}

	if err := b.state.SetUserState(ctx, userID, models.StepChoosingLanguage, models.RegistrationDraft{}); err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.replyWithMarkup(ctx, chatID, "Please choose your language / Выберите язык:",
		optionKeyboard(cbLanguage, supportedLanguages))
}

// stepState loads the user's state and answers the callback when the user
// is not at want, which happens when an old keyboard is pressed.
func (b *Bot) stepState(ctx context.Context, cq *tgbotapi.CallbackQuery, want models.Step) (*models.UserState, bool) {
	st, err := b.state.GetUserState(ctx, cq.From.ID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to load state")
		b.answer(ctx, cq.ID, "Something went wrong. Please try again.")
		return nil, false
	}
	if st.Step != want {
		b.answer(ctx, cq.ID, "This menu has expired. Send /start to begin again.")
		return nil, false
	}
	return st, true
}

func (b *Bot) handleLanguage(ctx context.Context, cq *tgbotapi.CallbackQuery, code string) {
	st, ok := b.stepState(ctx, cq, models.StepChoosingLanguage)
	if !ok {
		return
	}
	if _, valid := findOption(supportedLanguages, code); !valid {
		b.answer(ctx, cq.ID, "Invalid language selection")
		return
	}

	st.Draft.Language = code
	if err := b.state.SetUserState(ctx, cq.From.ID, models.StepChoosingCountry, st.Draft); err != nil {
		b.answer(ctx, cq.ID, "Something went wrong. Please try again.")
		return
	}
	b.answer(ctx, cq.ID, "")
	markup := optionKeyboard(cbCountry, supportedCountries)
	b.edit(ctx, cq.Message.Chat.ID, cq.Message.MessageID, "Please select your country:", &markup)
}

func (b *Bot) handleCountry(ctx context.Context, cq *tgbotapi.CallbackQuery, code string) {
	st, ok := b.stepState(ctx, cq, models.StepChoosingCountry)
	if !ok {
		return
	}
	if _, valid := findOption(supportedCountries, code); !valid {
		b.answer(ctx, cq.ID, "Invalid country selection")
		return
	}

	st.Draft.Country = code
	st.Draft.CityPage = 0
	if err := b.state.SetUserState(ctx, cq.From.ID, models.StepChoosingCity, st.Draft); err != nil {
		b.answer(ctx, cq.ID, "Something went wrong. Please try again.")
		return
	}
	b.answer(ctx, cq.ID, "")
	markup := cityKeyboard(b.cities, 0)
	b.edit(ctx, cq.Message.Chat.ID, cq.Message.MessageID, cityPrompt(0, len(b.cities)), &markup)
}

func (b *Bot) handleCityPage(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	st, ok := b.stepState(ctx, cq, models.StepChoosingCity)
	if !ok {
		return
	}
	page, valid := parseIndex(cq.Data, cbCityPage)
	if !valid {
		b.answer(ctx, cq.ID, "")
		return
	}
	page = clampPage(page, len(b.cities))

	st.Draft.CityPage = page
	if err := b.state.SetUserState(ctx, cq.From.ID, models.StepChoosingCity, st.Draft); err != nil {
		b.answer(ctx, cq.ID, "Something went wrong. Please try again.")
		return
	}
	b.answer(ctx, cq.ID, "")
	markup := cityKeyboard(b.cities, page)
	b.edit(ctx, cq.Message.Chat.ID, cq.Message.MessageID, cityPrompt(page, len(b.cities)), &markup)
}

func (b *Bot) handleCity(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	st, ok := b.stepState(ctx, cq, models.StepChoosingCity)
	if !ok {
		return
	}
	idx, valid := parseIndex(cq.Data, cbCity)
	if !valid || idx < 0 || idx >= len(b.cities) {
		b.answer(ctx, cq.ID, "Invalid city selection")
		return
	}
	city := b.cities[idx]

	_, err := b.schedules.Register(ctx, cq.From.ID, st.Draft.Language, st.Draft.Country, city)
	_ = b.state.ClearUserState(ctx, cq.From.ID)
	b.answer(ctx, cq.ID, "")

	chatID := cq.Message.Chat.ID
	switch {
	case errors.Is(err, database.ErrWorkerExists):
		b.edit(ctx, chatID, cq.Message.MessageID, "You are already registered.", nil)
	case err != nil:
		b.replyError(ctx, chatID, err)
		return
	default:
		metrics.IncRegistration()
		b.edit(ctx, chatID, cq.Message.MessageID, "Registration complete! Your city: "+city, nil)
	}
	b.replyWithMarkup(ctx, chatID, "Main Menu", mainMenu)
}

func (b *Bot) handleScheduleCommand(ctx context.Context, chatID, userID int64) {
	if _, err := b.schedules.Worker(ctx, userID); err != nil {
		if errors.Is(err, database.ErrWorkerNotFound) {
			b.reply(ctx, chatID, notRegisteredText)
			return
		}
		b.replyError(ctx, chatID, err)
		return
	}
	if err := b.state.SetUserState(ctx, userID, models.StepEnteringSchedule, models.RegistrationDraft{}); err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(ctx, chatID, schedulePrompt)
}

// handleScheduleText stores the entered schedule. Parser errors keep the
// user in the entering state so the next message is another attempt.
func (b *Bot) handleScheduleText(ctx context.Context, chatID, userID int64, text string) {
	_, err := b.schedules.SubmitSchedule(ctx, userID, text)
	switch {
	case err == nil:
		metrics.IncSubmission("saved")
		_ = b.state.ClearUserState(ctx, userID)
		b.reply(ctx, chatID, "Your work schedule has been saved!")
		b.handleStats(ctx, chatID, userID)
	case errors.Is(err, shift.ErrTooManyIntervals),
		errors.Is(err, shift.ErrMalformedTime),
		errors.Is(err, shift.ErrNonChronological):
		metrics.IncSubmission("invalid")
		b.reply(ctx, chatID, err.Error())
	case errors.Is(err, database.ErrDuplicateForDay):
		metrics.IncSubmission("duplicate")
		_ = b.state.ClearUserState(ctx, userID)
		b.reply(ctx, chatID, duplicateText)
	case errors.Is(err, database.ErrWorkerNotFound):
		_ = b.state.ClearUserState(ctx, userID)
		b.reply(ctx, chatID, notRegisteredText)
	default:
		metrics.IncSubmission("error")
		b.replyError(ctx, chatID, err)
	}
}

func (b *Bot) handleStats(ctx context.Context, chatID, userID int64) {
	day, err := b.schedules.Stats(ctx, userID)
	if errors.Is(err, database.ErrWorkerNotFound) {
		b.reply(ctx, chatID, notRegisteredText)
		return
	}
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(ctx, chatID, statsText(day))
}

// handleReport fires the report loop in the background so updates keep
// flowing, and replies with a summary when the firing ends.
func (b *Bot) handleReport(ctx context.Context, chatID int64) {
	if b.reports == nil {
		b.reply(ctx, chatID, "Reports are not available.")
		return
	}
	if !b.reporting.CompareAndSwap(false, true) {
		b.reply(ctx, chatID, reportRunningText)
		return
	}
	b.reply(ctx, chatID, reportStartedText)

	// Detached from the update; shutdown of the bot still stops new cities.
	runCtx := zerolog.Ctx(ctx).WithContext(b.baseContext())
	b.background.Add(1)
	go func() {
		defer b.background.Done()
		defer b.reporting.Store(false)

		stats, err := b.reports.RunNow(runCtx, service.ReportLoop)
		switch {
		case errors.Is(err, scheduler.ErrLoopBusy):
			b.reply(runCtx, chatID, reportRunningText)
		case err != nil:
			b.replyError(runCtx, chatID, err)
		default:
			b.reply(runCtx, chatID, fmt.Sprintf("Report finished: %d cities, %d sent, %d failed.",
				stats.Total, stats.Done, stats.Failed))
		}
	}()
}

func (b *Bot) handleExport(ctx context.Context, chatID int64) {
	date := b.schedules.Today()
	days, err := b.schedules.AllCityDays(ctx, date)
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteWorkbook(days, &buf); err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	caption := fmt.Sprintf("Occupancy for %s, %d cities", date, len(days))
	if err := b.sender.SendDocument(ctx, chatID, export.Filename(date), buf.Bytes(), caption); err != nil {
		b.replyError(ctx, chatID, err)
	}
}
