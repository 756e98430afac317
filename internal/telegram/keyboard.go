package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/StayAlive96/Bitrix-task-bot/internal/dialog"
)

var (
	mainMenu = replyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(dialog.ButtonCreate),
			tgbotapi.NewKeyboardButton(dialog.ButtonLink),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(dialog.ButtonHelp),
		),
	)

	linkRequiredMenu = replyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(dialog.ButtonLink),
			tgbotapi.NewKeyboardButton(dialog.ButtonHelp),
		),
	)

	startButton = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Создать задачу", dialog.ActionStartTask),
		),
	)

	attachmentsButtons = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Готово ✅", dialog.ActionAttachmentsDone),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Отмена ❌", dialog.ActionCancel),
		),
	)

	confirmButtons = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Создать ✅", dialog.ActionConfirm),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Отмена ❌", dialog.ActionCancel),
		),
	)
)

func replyKeyboard(rows ...[]tgbotapi.KeyboardButton) tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	return kb
}

// markup разметка клавиатуры для сообщения; nil - без клавиатуры.
func markup(k dialog.Keyboard) any {
	switch k {
	case dialog.KeyboardMainMenu:
		return mainMenu
	case dialog.KeyboardLinkRequired:
		return linkRequiredMenu
	case dialog.KeyboardStart:
		return startButton
	case dialog.KeyboardAttachments:
		return attachmentsButtons
	case dialog.KeyboardConfirm:
		return confirmButtons
	default:
		return nil
	}
}
