package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"cityshift/shared/scheduler"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers scheduler notifications and reports over Telegram.
type Sender struct {
	tg TelegramSender
}

func NewSender(tg TelegramSender) *Sender {
	return &Sender{tg: tg}
}

// Send sends a plain text message to chatID.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	return s.do(ctx, tgbotapi.NewMessage(chatID, text))
}

// SendReport sends a city histogram image with its caption.
func (s *Sender) SendReport(ctx context.Context, adminID int64, city string, png []byte, caption string) error {
	photo := tgbotapi.NewPhoto(adminID, tgbotapi.FileBytes{Name: city + ".png", Bytes: png})
	photo.Caption = caption
	return s.do(ctx, photo)
}

// SendDocument sends data as a file attachment.
func (s *Sender) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: name, Reader: bytes.NewReader(data)})
	doc.Caption = caption
	return s.do(ctx, doc)
}

// do returns when the send completes or ctx is done, whichever is first.
// The Telegram client has no context support, so an abandoned send keeps
// running in its goroutine.
func (s *Sender) do(ctx context.Context, c tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.tg.Send(c)
		done <- err
	}()

	select {
	case err := <-done:
		return toSendError(err)
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}

// toSendError converts Telegram API failures into scheduler.SendError so the
// deliverer can tell rate limits and blocked chats from transient faults.
func toSendError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &scheduler.SendError{
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			RetryAfter: apiErr.ResponseParameters.RetryAfter,
		}
	}
	var valErr tgbotapi.Error
	if errors.As(err, &valErr) {
		return &scheduler.SendError{
			Code:       valErr.Code,
			Message:    valErr.Message,
			RetryAfter: valErr.ResponseParameters.RetryAfter,
		}
	}
	return err
}
