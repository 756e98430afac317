package dialog

import "context"

type Keyboard int

const (
	KeyboardNone         Keyboard = iota
	KeyboardMainMenu              // меню: создать задачу, привязать профиль, помощь
	KeyboardStart                 // inline-кнопка создания задачи
	KeyboardAttachments           // готово / отмена
	KeyboardConfirm               // создать / отмена
	KeyboardLinkRequired          // меню с подсказкой о привязке
)

// Тексты кнопок меню.
const (
	ButtonCreate = "📝 Создать задачу"
	ButtonLink   = "🔗 Привязать профиль"
	ButtonHelp   = "ℹ️ Как найти ID?"
)

// Данные inline-кнопок.
const (
	ActionStartTask       = "start_task"
	ActionAttachmentsDone = "attachments_done"
	ActionConfirm         = "confirm_create"
	ActionCancel          = "cancel_task"
)

// Reply сообщение пользователю. Markdown означает разметку Telegram Markdown
// (v1).
type Reply struct {
	Text     string
	Keyboard Keyboard
	Markdown bool
}

// Replier отправляет ответы в чат пользователя.
type Replier interface {
	Reply(ctx context.Context, r Reply) error
}
