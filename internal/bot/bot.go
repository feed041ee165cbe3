package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cityshift/internal/metrics"
	"cityshift/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) StopReceivingUpdates() {
	c.api.StopReceivingUpdates()
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}

// Config carries the bot's static settings.
type Config struct {
	Cities   []string
	AdminIDs []int64
	// RateLimit is the number of updates a user may send per RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

// Bot is the Telegram front end for registration, schedule entry and stats.
type Bot struct {
	tg        telegramClient
	schedules ScheduleManager
	state     StateManager
	reports   ReportRunner
	sender    *Sender
	cities    []string
	admins    map[int64]struct{}
	rateLimit int
	rateWin   time.Duration
	logger    *zerolog.Logger

	lifetime   context.Context
	background sync.WaitGroup
	reporting  atomic.Bool
}

// New wraps an authorized BotAPI.
func New(api *tgbotapi.BotAPI, cfg Config, schedules ScheduleManager, state StateManager, reports ReportRunner, logger *zerolog.Logger) (*Bot, error) {
	if api == nil {
		return nil, errors.New("telegram api is nil")
	}
	return newBot(&realTelegramClient{api: api}, cfg, schedules, state, reports, logger)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, cfg Config, schedules ScheduleManager, state StateManager, reports ReportRunner, logger *zerolog.Logger) (*Bot, error) {
	return newBot(tg, cfg, schedules, state, reports, logger)
}

func newBot(tg telegramClient, cfg Config, schedules ScheduleManager, state StateManager, reports ReportRunner, logger *zerolog.Logger) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	if len(cfg.Cities) == 0 {
		return nil, fmt.Errorf("no cities configured")
	}
	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	l := logger.With().Str("component", "bot").Logger()
	return &Bot{
		tg:        tg,
		schedules: schedules,
		state:     state,
		reports:   reports,
		sender:    NewSender(tg),
		cities:    cfg.Cities,
		admins:    admins,
		rateLimit: cfg.RateLimit,
		rateWin:   cfg.RateWindow,
		logger:    &l,
	}, nil
}

func (b *Bot) isAdmin(userID int64) bool {
	_, ok := b.admins[userID]
	return ok
}

// Start polls updates and handles them one at a time until ctx is done.
// It returns once background work started by handlers has finished.
func (b *Bot) Start(ctx context.Context) {
	b.lifetime = ctx
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	defer b.tg.StopReceivingUpdates()
	defer b.background.Wait()
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("bot authorized")

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			b.handleUpdate(l.WithContext(ctx), &update)
		}
	}
}

// baseContext is the context of the running update loop.
func (b *Bot) baseContext() context.Context {
	if b.lifetime != nil {
		return b.lifetime
	}
	return context.Background()
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil {
		metrics.IncUpdate("callback")
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("Handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil && update.Message.From != nil {
		metrics.IncUpdate("message")
		l.Debug().
			Int64("user_id", update.Message.From.ID).
			Str("text", update.Message.Text).
			Msg("Handling message")
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) allowed(ctx context.Context, userID int64) bool {
	ok, err := b.state.CheckRateLimit(ctx, userID, b.rateLimit, b.rateWin)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("rate limit check failed")
		return true
	}
	return ok
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	if !b.allowed(ctx, userID) {
		b.reply(ctx, chatID, "Too many requests. Please slow down.")
		return
	}

	text := strings.TrimSpace(msg.Text)
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.handleStart(ctx, chatID, userID)
		case "schedule":
			b.handleScheduleCommand(ctx, chatID, userID)
		case "stats":
			b.handleStats(ctx, chatID, userID)
		case "cancel":
			_ = b.state.ClearUserState(ctx, userID)
			b.reply(ctx, chatID, "Cancelled.")
		case "help":
			b.reply(ctx, chatID, helpText)
		case "report":
			if b.isAdmin(userID) {
				b.handleReport(ctx, chatID)
				return
			}
			b.reply(ctx, chatID, unknownCommandText)
		case "export":
			if b.isAdmin(userID) {
				b.handleExport(ctx, chatID)
				return
			}
			b.reply(ctx, chatID, unknownCommandText)
		default:
			b.reply(ctx, chatID, unknownCommandText)
		}
		return
	}

	st, err := b.state.GetUserState(ctx, userID)
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	switch {
	case st.Step == models.StepEnteringSchedule:
		b.handleScheduleText(ctx, chatID, userID, text)
	case st.Registering():
		b.reply(ctx, chatID, "Please use the buttons above to finish registration, or send /start to begin again.")
	default:
		b.reply(ctx, chatID, "Use /schedule to submit your work schedule or /stats to see your city statistics.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil {
		return
	}
	if !b.allowed(ctx, cq.From.ID) {
		b.answer(ctx, cq.ID, "Too many requests. Please slow down.")
		return
	}

	data := cq.Data
	switch {
	case strings.HasPrefix(data, cbLanguage):
		b.handleLanguage(ctx, cq, strings.TrimPrefix(data, cbLanguage))
	case strings.HasPrefix(data, cbCountry):
		b.handleCountry(ctx, cq, strings.TrimPrefix(data, cbCountry))
	case strings.HasPrefix(data, cbCityPage):
		b.handleCityPage(ctx, cq)
	case strings.HasPrefix(data, cbCity):
		b.handleCity(ctx, cq)
	default:
		b.answer(ctx, cq.ID, "")
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyWithMarkup(ctx context.Context, chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	b.send(ctx, msg)
}

func (b *Bot) replyError(ctx context.Context, chatID int64, err error) {
	zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("request failed")
	b.reply(ctx, chatID, "Something went wrong. Please try again later.")
}

func (b *Bot) edit(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	var c tgbotapi.Chattable
	if markup != nil {
		c = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		c = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	b.send(ctx, c)
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	if _, err := b.tg.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to answer callback")
	}
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := b.tg.Send(c); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to send message")
	}
}
