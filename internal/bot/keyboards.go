package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbLanguage = "lang:"
	cbCountry  = "country:"
	cbCity     = "city:"
	cbCityPage = "citypage:"

	citiesPerPage = 8
)

type option struct {
	Code string
	Name string
}

var (
	supportedLanguages = []option{{Code: "en", Name: "English"}}
	supportedCountries = []option{{Code: "PL", Name: "Poland"}}
)

func findOption(opts []option, code string) (option, bool) {
	for _, o := range opts {
		if o.Code == code {
			return o, true
		}
	}
	return option{}, false
}

var mainMenu = tgbotapi.NewReplyKeyboard(
	tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton("/schedule"),
		tgbotapi.NewKeyboardButton("/stats"),
	),
)

func optionKeyboard(prefix string, opts []option) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, o := range opts {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(o.Name, prefix+o.Code),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// pageCount returns the number of city pages, at least one.
func pageCount(total int) int {
	if total == 0 {
		return 1
	}
	return (total + citiesPerPage - 1) / citiesPerPage
}

// clampPage keeps page inside [0, pageCount).
func clampPage(page, total int) int {
	if page < 0 {
		return 0
	}
	if last := pageCount(total) - 1; page > last {
		return last
	}
	return page
}

// cityKeyboard renders one page of cities. Buttons carry the city index
// because Telegram limits callback data to 64 bytes.
func cityKeyboard(cities []string, page int) tgbotapi.InlineKeyboardMarkup {
	page = clampPage(page, len(cities))
	startIdx := page * citiesPerPage
	endIdx := startIdx + citiesPerPage
	if endIdx > len(cities) {
		endIdx = len(cities)
	}

	var keyboard [][]tgbotapi.InlineKeyboardButton
	for i := startIdx; i < endIdx; i += 2 {
		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(cities[i], cbCity+strconv.Itoa(i)),
		}
		if i+1 < endIdx {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(cities[i+1], cbCity+strconv.Itoa(i+1)))
		}
		keyboard = append(keyboard, row)
	}

	var navButtons []tgbotapi.InlineKeyboardButton
	if page > 0 {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", cbCityPage+strconv.Itoa(page-1)))
	}
	if endIdx < len(cities) {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", cbCityPage+strconv.Itoa(page+1)))
	}
	if len(navButtons) > 0 {
		keyboard = append(keyboard, navButtons)
	}

	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

func cityPrompt(page, total int) string {
	return fmt.Sprintf("Please select your city:\n\nPage %d of %d", clampPage(page, total)+1, pageCount(total))
}

// parseIndex extracts the integer after prefix in callback data.
func parseIndex(data, prefix string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(data, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}
