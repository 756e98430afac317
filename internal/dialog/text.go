package dialog

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	msgAccessDenied    = "Доступ запрещён."
	msgChooseAction    = "Выберите действие:"
	msgUseButtons      = "Выберите действие кнопкой 👇"
	msgCancelled       = "Отменено."
	msgBusy            = "Сервер занят, попробуйте позже."
	msgAskTitle        = "Ок. Введи *Название* задачи:"
	msgEmptyTitle      = "Название пустое. Введи название ещё раз:"
	msgAskDescription  = "Теперь введи *Описание* (что сделать/что не работает/контекст):"
	msgEmptyDesc       = "Описание пустое. Введи описание ещё раз:"
	msgAskAttachments  = "Теперь можешь отправить *скриншоты/файлы* (можно несколько). Когда закончишь, нажми *Готово ✅*."
	msgOnlyFiles       = "Я могу принять фото или документ. Пришли файл/скриншот или нажми Готово ✅."
	msgNoSession       = "Сессия не найдена. Запусти /task заново."
	msgPressConfirm    = "Нажми *Создать ✅* или *Отмена ❌*."
	msgMissingData     = "Не хватает данных. Запусти /task заново."
	msgSaveFailed      = "Не удалось сохранить файл. Попробуйте отправить его ещё раз."
	msgCreating        = "Создаю задачу в Bitrix24…"
	msgCreateFailed    = "Не получилось создать задачу из-за ошибки Bitrix24. Попробуйте позже."
	msgBadBitrixID     = "Не понял ID. Пришлите ссылку вида .../user/123/ или просто число 123."
	msgNotLinkedSubmit = "Нельзя создать задачу без привязки профиля Bitrix24.\n" +
		"Сначала нажмите «" + ButtonLink + "» и пришлите ID/ссылку."
)

var msgLinkRequired = strings.Join([]string{
	"Сначала привяжите профиль Bitrix24 ✅",
	"Иначе задачи будут создаваться от технического пользователя.",
	"",
	"Нажмите «" + ButtonLink + "» или «" + ButtonHelp + "»",
}, "\n")

var msgLinkPrompt = strings.Join([]string{
	"Привязать профиль Bitrix24:",
	"Пришлите ссылку на ваш профиль или просто число ID.",
	"",
	"Пример:",
	"https://<portal>.bitrix24.ru/company/personal/user/123/",
	"или: 123",
}, "\n")

var msgHelp = strings.Join([]string{
	"Как найти ID в Bitrix24:",
	"1) Откройте Bitrix24: https://<portal>.bitrix24.ru/",
	"2) Нажмите на своё имя/аватар → Профиль",
	"3) В адресной строке будет .../company/personal/user/123/, число 123 и есть ваш ID",
	"",
	"Можно прислать ссылку целиком или просто число.",
}, "\n")

func msgLinked(bitrixID int64) string {
	return fmt.Sprintf("Готово ✅ Профиль привязан (Bitrix ID: %d).\nТеперь нажмите «%s».", bitrixID, ButtonCreate)
}

func msgMe(tgID, bitrixID int64, linked bool) string {
	bid := "не привязан"
	if linked {
		bid = strconv.FormatInt(bitrixID, 10)
	}
	return fmt.Sprintf("TG ID: %d\nBitrix ID (linked): %s", tgID, bid)
}

func msgAttachmentLimit(limit int) string {
	return fmt.Sprintf("Лимит вложений: %d на одну задачу. Нажмите «Готово ✅».", limit)
}

func msgTooLarge(limit int64) string {
	return fmt.Sprintf("Файл слишком большой. Максимальный размер вложения: %d MB.", limit/(1024*1024))
}

func msgSaved(name string, photo bool) string {
	if photo {
		return "Ок, сохранил фото: " + name
	}
	return "Ок, сохранил файл: " + name
}

func msgSummary(title string, files int) string {
	return fmt.Sprintf("Проверим перед созданием:\n\n*Название:* %s\n*Вложений:* %d\n\n%s",
		escapeMarkdown(title), files, msgPressConfirm)
}

func msgUploading(files int) string {
	return fmt.Sprintf("Загружаю вложения в Bitrix24 Disk: %d шт.", files)
}

func msgNothingUploaded(failed []string) string {
	return "Не удалось загрузить ни одно вложение, задача не создана.\n" +
		"Проверьте доступ к папке Bitrix Disk и попробуйте снова.\n\n" +
		"Неуспешные файлы:\n" + fileList(failed)
}

func msgPartiallyUploaded(failed []string) string {
	return "Часть вложений не загрузилась. Создам задачу только с успешно загруженными файлами.\n\n" +
		"Неуспешные файлы:\n" + fileList(failed)
}

func msgCreated(taskID int64, link string, attached int, failed []string) string {
	lines := []string{"Задача создана ✅", "ID: " + strconv.FormatInt(taskID, 10)}
	if link != "" {
		lines = append(lines, "Ссылка: "+link)
	}
	if attached > 0 {
		lines = append(lines, "Вложений прикреплено: "+strconv.Itoa(attached))
	}
	if len(failed) > 0 {
		lines = append(lines, "Не загрузились файлы:\n"+fileList(failed))
	}
	return strings.Join(lines, "\n")
}

func fileList(names []string) string {
	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = "- " + name
	}
	return strings.Join(lines, "\n")
}

// initiatorBlock контакт автора задачи для описания.
func initiatorBlock(userID int64, username string) string {
	contact := "tg_id:" + strconv.FormatInt(userID, 10)
	if username = strings.TrimPrefix(strings.TrimSpace(username), "@"); username != "" {
		contact = "@" + username
	}
	return "Контакт инициатора:\nTelegram: " + contact
}

// taskDescription описание пользователя и блок инициатора через пустую строку.
func taskDescription(desc, initiator string) string {
	return strings.TrimSpace(strings.TrimSpace(desc) + "\n\n" + strings.TrimSpace(initiator))
}

// taskLink ссылка на задачу по шаблону с {task_id}, иначе типовой путь
// портала. Пустая строка, если не задано ни то, ни другое.
func taskLink(template, portalBase string, responsibleID, taskID int64) string {
	id := strconv.FormatInt(taskID, 10)
	if template = strings.TrimSpace(template); template != "" {
		return strings.ReplaceAll(template, "{task_id}", id)
	}
	if base := strings.TrimRight(strings.TrimSpace(portalBase), "/"); base != "" {
		return fmt.Sprintf("%s/company/personal/user/%d/tasks/task/view/%s/", base, responsibleID, id)
	}
	return ""
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
