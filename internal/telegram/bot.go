// Package telegram получает обновления Telegram через long polling и передает
// их диалогу. Обновления одного пользователя обрабатываются строго по очереди,
// разные пользователи обслуживаются параллельно.
package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/StayAlive96/Bitrix-task-bot/internal/dialog"
	"github.com/StayAlive96/Bitrix-task-bot/internal/logger"
	"github.com/StayAlive96/Bitrix-task-bot/internal/metrics"
)

const (
	queueSize   = 32
	idleTimeout = 5 * time.Minute
)

// API часть *tgbotapi.BotAPI, нужная боту.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler операции диалога. Реализуется *dialog.Wizard.
type Handler interface {
	Start(ctx context.Context, u dialog.User, out dialog.Replier)
	Help(ctx context.Context, u dialog.User, out dialog.Replier)
	Me(ctx context.Context, u dialog.User, out dialog.Replier)
	NewTask(ctx context.Context, u dialog.User, out dialog.Replier)
	LinkStart(ctx context.Context, u dialog.User, out dialog.Replier, arg string)
	Text(ctx context.Context, u dialog.User, out dialog.Replier, text string)
	Attachment(ctx context.Context, u dialog.User, out dialog.Replier, a dialog.Attachment)
	AttachmentsDone(ctx context.Context, u dialog.User, out dialog.Replier)
	Confirm(ctx context.Context, u dialog.User, out dialog.Replier)
	Cancel(ctx context.Context, u dialog.User, out dialog.Replier)
}

type Bot struct {
	api         API
	handler     Handler
	pollTimeout time.Duration
	mu          sync.Mutex
	queues      map[int64]chan tgbotapi.Update // очереди пользователей
	wg          sync.WaitGroup
}

func New(api API, handler Handler, pollTimeout time.Duration) *Bot {
	return &Bot{
		api:         api,
		handler:     handler,
		pollTimeout: pollTimeout,
		queues:      make(map[int64]chan tgbotapi.Update),
	}
}

// Run получает обновления до отмены ctx, затем дожидается обработки уже
// принятых.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(b.pollTimeout / time.Second)
	updates := b.api.GetUpdatesChan(cfg)

	slog.Info("telegram polling started", "timeout", b.pollTimeout)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case upd, ok := <-updates:
			if !ok {
				break loop
			}
			b.dispatch(ctx, upd)
		}
	}

	b.api.StopReceivingUpdates()

	b.mu.Lock()
	for userID, q := range b.queues {
		close(q)
		delete(b.queues, userID)
	}
	b.mu.Unlock()

	b.wg.Wait()
	slog.Info("telegram polling stopped")
	return nil
}

// dispatch ставит обновление в очередь пользователя, запуская обработчик
// очереди при необходимости.
func (b *Bot) dispatch(ctx context.Context, upd tgbotapi.Update) {
	userID, ok := updateUser(upd)
	if !ok {
		metrics.ChatUpdates.WithLabelValues("ignored").Inc()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[userID]
	if !ok {
		q = make(chan tgbotapi.Update, queueSize)
		b.queues[userID] = q
		b.wg.Add(1)
		go b.worker(ctx, userID, q)
	}

	select {
	case q <- upd:
	default:
		slog.Warn("user queue is full, update dropped", "userID", userID, "updateID", upd.UpdateID)
	}
}

func (b *Bot) worker(ctx context.Context, userID int64, q chan tgbotapi.Update) {
	defer b.wg.Done()

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case upd, ok := <-q:
			if !ok {
				return
			}
			b.handle(ctx, upd)
			idle.Reset(idleTimeout)

		case <-idle.C:
			b.mu.Lock()
			if len(q) == 0 && b.queues[userID] == q {
				delete(b.queues, userID)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			idle.Reset(idleTimeout)
		}
	}
}

func updateUser(upd tgbotapi.Update) (int64, bool) {
	switch {
	case upd.CallbackQuery != nil && upd.CallbackQuery.From != nil:
		return upd.CallbackQuery.From.ID, true
	case upd.Message != nil && upd.Message.From != nil:
		return upd.Message.From.ID, true
	default:
		return 0, false
	}
}

func (b *Bot) handle(ctx context.Context, upd tgbotapi.Update) {
	ctx, log := logger.With(ctx, "updID", upd.UpdateID, "reqID", logger.NewRequestID())
	defer logger.Recover(log, nil)

	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	metrics.ChatUpdates.WithLabelValues("callback").Inc()

	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		logger.FromContext(ctx).Warn("answer callback failed", "error", err)
	}
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}

	u := dialog.User{ID: cq.From.ID, ChatID: cq.Message.Chat.ID, Username: cq.From.UserName}
	out := b.replier(u.ChatID)

	switch cq.Data {
	case dialog.ActionStartTask:
		b.handler.NewTask(ctx, u, out)
	case dialog.ActionAttachmentsDone:
		b.handler.AttachmentsDone(ctx, u, out)
	case dialog.ActionConfirm:
		b.handler.Confirm(ctx, u, out)
	case dialog.ActionCancel:
		b.handler.Cancel(ctx, u, out)
	default:
		logger.FromContext(ctx).Debug("unknown callback", "data", cq.Data)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	u := dialog.User{ID: msg.From.ID, ChatID: msg.Chat.ID, Username: msg.From.UserName}
	out := b.replier(u.ChatID)

	switch {
	case msg.IsCommand():
		metrics.ChatUpdates.WithLabelValues("command").Inc()
		b.handleCommand(ctx, u, out, msg)

	case len(msg.Photo) > 0:
		metrics.ChatUpdates.WithLabelValues("photo").Inc()
		b.chatAction(ctx, u.ChatID)
		photo := msg.Photo[len(msg.Photo)-1] // самый большой размер
		b.handler.Attachment(ctx, u, out, dialog.Attachment{
			FileID:   photo.FileID,
			UniqueID: photo.FileUniqueID,
			Size:     int64(photo.FileSize),
			Photo:    true,
		})

	case msg.Document != nil:
		metrics.ChatUpdates.WithLabelValues("document").Inc()
		b.chatAction(ctx, u.ChatID)
		doc := msg.Document
		b.handler.Attachment(ctx, u, out, dialog.Attachment{
			FileID:   doc.FileID,
			UniqueID: doc.FileUniqueID,
			Name:     doc.FileName,
			MIMEType: doc.MimeType,
			Size:     int64(doc.FileSize),
		})

	default:
		metrics.ChatUpdates.WithLabelValues("text").Inc()
		switch strings.TrimSpace(msg.Text) {
		case dialog.ButtonCreate:
			b.handler.NewTask(ctx, u, out)
		case dialog.ButtonLink:
			b.handler.LinkStart(ctx, u, out, "")
		case dialog.ButtonHelp:
			b.handler.Help(ctx, u, out)
		default:
			b.handler.Text(ctx, u, out, msg.Text)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, u dialog.User, out dialog.Replier, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handler.Start(ctx, u, out)
	case "task":
		b.handler.NewTask(ctx, u, out)
	case "cancel":
		b.handler.Cancel(ctx, u, out)
	case "me":
		b.handler.Me(ctx, u, out)
	case "link":
		b.handler.LinkStart(ctx, u, out, msg.CommandArguments())
	case "help":
		b.handler.Help(ctx, u, out)
	default:
		b.handler.Start(ctx, u, out)
	}
}

func (b *Bot) chatAction(ctx context.Context, chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadDocument)); err != nil {
		logger.FromContext(ctx).Debug("send chat action failed", "error", err)
	}
}

func (b *Bot) replier(chatID int64) dialog.Replier {
	return &chatReplier{api: b.api, chatID: chatID}
}

// chatReplier отправляет ответы диалога в один чат.
type chatReplier struct {
	api    API
	chatID int64
}

func (r *chatReplier) Reply(ctx context.Context, reply dialog.Reply) error {
	msg := tgbotapi.NewMessage(r.chatID, reply.Text)
	if reply.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if kb := markup(reply.Keyboard); kb != nil {
		msg.ReplyMarkup = kb
	}
	_, err := r.api.Send(msg)
	return err
}
