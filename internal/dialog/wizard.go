// Package dialog пошаговый диалог создания задачи: название, описание,
// вложения, подтверждение. Не зависит от мессенджера: входящие события
// передает адаптер, ответы уходят через Replier.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/StayAlive96/Bitrix-task-bot/internal/loader"
	"github.com/StayAlive96/Bitrix-task-bot/internal/logger"
	"github.com/StayAlive96/Bitrix-task-bot/internal/manager"
	"github.com/StayAlive96/Bitrix-task-bot/internal/model"
	"github.com/StayAlive96/Bitrix-task-bot/internal/usermap"
)

const ticketIDLen = 10

type SessionStore interface {
	Get(ctx context.Context, userID int64) (model.Session, error)
	Save(ctx context.Context, sess model.Session) error
	Delete(ctx context.Context, userID int64) error
}

// Linker привязка пользователя чата к профилю Bitrix24.
type Linker interface {
	Get(ctx context.Context, tgID int64) (int64, bool, error)
	Set(ctx context.Context, tgID, bitrixUserID int64) error
}

type Submitter interface {
	Submit(ctx context.Context, d manager.Draft) (manager.Result, error)
}

// FileResolver выдает адрес для скачивания файла из чата.
type FileResolver interface {
	GetFileDirectURL(fileID string) (string, error)
}

type Downloader interface {
	Save(ctx context.Context, req loader.Request) (model.RemoteFile, error)
}

type Config struct {
	AllowedUsers       []int64 // пустой список - доступ для всех
	UploadDir          string
	MaxAttachments     int
	MaxAttachmentBytes int64
	ResponsibleID      int64
	PortalBase         string
	TaskURLTemplate    string
}

type User struct {
	ID       int64
	ChatID   int64
	Username string
}

// Attachment фото или документ из чата.
type Attachment struct {
	FileID   string
	UniqueID string
	Name     string
	MIMEType string
	Size     int64 // 0, если неизвестен
	Photo    bool
}

type Wizard struct {
	cfg       Config
	sessions  SessionStore
	links     Linker
	submitter Submitter
	files     FileResolver
	loader    Downloader
	now       func() time.Time
}

func New(cfg Config, sessions SessionStore, links Linker, submitter Submitter, files FileResolver, ldr Downloader) *Wizard {
	return &Wizard{
		cfg:       cfg,
		sessions:  sessions,
		links:     links,
		submitter: submitter,
		files:     files,
		loader:    ldr,
		now:       time.Now,
	}
}

func (w *Wizard) allowed(userID int64) bool {
	return len(w.cfg.AllowedUsers) == 0 || slices.Contains(w.cfg.AllowedUsers, userID)
}

// guard отвечает отказом, если пользователю нельзя пользоваться ботом.
func (w *Wizard) guard(ctx context.Context, u User, out Replier) bool {
	if w.allowed(u.ID) {
		return true
	}
	logger.FromContext(ctx).Info("access denied", "userID", u.ID)
	w.reply(ctx, out, Reply{Text: msgAccessDenied})
	return false
}

func (w *Wizard) reply(ctx context.Context, out Replier, r Reply) {
	if err := out.Reply(ctx, r); err != nil {
		logger.FromContext(ctx).Warn("send reply failed", "error", err)
	}
}

// session текущая сессия пользователя; ok == false, если ее нет.
func (w *Wizard) session(ctx context.Context, userID int64) (model.Session, bool, error) {
	sess, err := w.sessions.Get(ctx, userID)
	if errors.Is(err, model.ErrSessionNotFound) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, err
	}
	return sess, true, nil
}

func (w *Wizard) save(ctx context.Context, out Replier, sess model.Session) bool {
	err := w.sessions.Save(ctx, sess)
	if err == nil {
		return true
	}
	logger.FromContext(ctx).Error("save session failed", "userID", sess.UserID, "step", sess.Step, "error", err)
	w.reply(ctx, out, Reply{Text: msgBusy, Keyboard: KeyboardMainMenu})
	return false
}

func (w *Wizard) drop(ctx context.Context, userID int64) {
	if err := w.sessions.Delete(ctx, userID); err != nil {
		logger.FromContext(ctx).Warn("delete session failed", "userID", userID, "error", err)
	}
}

func (w *Wizard) linked(ctx context.Context, userID int64) (int64, bool) {
	id, ok, err := w.links.Get(ctx, userID)
	if err != nil {
		logger.FromContext(ctx).Error("get linked profile failed", "userID", userID, "error", err)
		return 0, false
	}
	return id, ok
}

func (w *Wizard) Start(ctx context.Context, u User, out Replier) {
	if !w.guard(ctx, u, out) {
		return
	}
	w.reply(ctx, out, Reply{Text: msgChooseAction, Keyboard: KeyboardMainMenu})
}

func (w *Wizard) Help(ctx context.Context, u User, out Replier) {
	if !w.guard(ctx, u, out) {
		return
	}
	w.reply(ctx, out, Reply{Text: msgHelp, Keyboard: KeyboardMainMenu})
}

func (w *Wizard) Me(ctx context.Context, u User, out Replier) {
	if !w.guard(ctx, u, out) {
		return
	}
	id, ok := w.linked(ctx, u.ID)
	w.reply(ctx, out, Reply{Text: msgMe(u.ID, id, ok), Keyboard: KeyboardMainMenu})
}

// NewTask начинает новую задачу. Незавершенная сессия сбрасывается.
func (w *Wizard) NewTask(ctx context.Context, u User, out Replier) {
	if !w.guard(ctx, u, out) {
		return
	}

	if _, ok := w.linked(ctx, u.ID); !ok {
		w.reply(ctx, out, Reply{Text: msgLinkRequired, Keyboard: KeyboardLinkRequired})
		return
	}

	sess := model.Session{
		UserID:   u.ID,
		ChatID:   u.ChatID,
		Username: u.Username,
		TicketID: newTicketID(),
		Step:     model.StepTitle,
	}
	if !w.save(ctx, out, sess) {
		return
	}

	logger.FromContext(ctx).Info("task dialog started", "userID", u.ID, "ticket", sess.TicketID)
	w.reply(ctx, out, Reply{Text: msgAskTitle, Markdown: true})
}

// LinkStart начинает привязку профиля. Если arg не пуст (например, "/link
// <ссылка>"), привязка выполняется сразу.
func (w *Wizard) LinkStart(ctx context.Context, u User, out Replier, arg string) {
	if !w.guard(ctx, u, out) {
		return
	}

	if strings.TrimSpace(arg) != "" {
		w.link(ctx, u, out, arg)
		return
	}

	sess := model.Session{
		UserID:   u.ID,
		ChatID:   u.ChatID,
		Username: u.Username,
		Step:     model.StepLink,
	}
	if !w.save(ctx, out, sess) {
		return
	}
	w.reply(ctx, out, Reply{Text: msgLinkPrompt, Keyboard: KeyboardMainMenu})
}

func (w *Wizard) link(ctx context.Context, u User, out Replier, text string) {
	bitrixID, ok := usermap.ParseBitrixUserID(text)
	if !ok {
		w.reply(ctx, out, Reply{Text: msgBadBitrixID, Keyboard: KeyboardMainMenu})
		return
	}

	if err := w.links.Set(ctx, u.ID, bitrixID); err != nil {
		logger.FromContext(ctx).Error("link profile failed", "userID", u.ID, "bitrixID", bitrixID, "error", err)
		w.reply(ctx, out, Reply{Text: msgBusy, Keyboard: KeyboardMainMenu})
		return
	}

	w.drop(ctx, u.ID)
	logger.FromContext(ctx).Info("profile linked", "userID", u.ID, "bitrixID", bitrixID)
	w.reply(ctx, out, Reply{Text: msgLinked(bitrixID), Keyboard: KeyboardStart})
}

// Text обрабатывает текст, введенный на текущем шаге.
func (w *Wizard) Text(ctx context.Context, u User, out Replier, text string) {
	if !w.guard(ctx, u, out) {
		return
	}

	sess, ok, err := w.session(ctx, u.ID)
	if err != nil {
		logger.FromContext(ctx).Error("get session failed", "userID", u.ID, "error", err)
		w.reply(ctx, out, Reply{Text: msgBusy, Keyboard: KeyboardMainMenu})
		return
	}
	if !ok {
		w.reply(ctx, out, Reply{Text: msgUseButtons, Keyboard: KeyboardMainMenu})
		return
	}

	text = strings.TrimSpace(text)

	switch sess.Step {
	case model.StepTitle:
		if text == "" {
			w.reply(ctx, out, Reply{Text: msgEmptyTitle})
			return
		}
		sess.Title = text
		sess.Step = model.StepDescription
		if w.save(ctx, out, sess) {
			w.reply(ctx, out, Reply{Text: msgAskDescription, Markdown: true})
		}

	case model.StepDescription:
		if text == "" {
			w.reply(ctx, out, Reply{Text: msgEmptyDesc})
			return
		}
		sess.Description = text
		sess.Step = model.StepAttachments
		if w.save(ctx, out, sess) {
			w.reply(ctx, out, Reply{Text: msgAskAttachments, Markdown: true, Keyboard: KeyboardAttachments})
		}

	case model.StepAttachments:
		w.reply(ctx, out, Reply{Text: msgOnlyFiles, Keyboard: KeyboardAttachments})

	case model.StepConfirm:
		w.reply(ctx, out, Reply{Text: msgPressConfirm, Markdown: true, Keyboard: KeyboardConfirm})

	case model.StepLink:
		w.link(ctx, u, out, text)

	default:
		w.reply(ctx, out, Reply{Text: msgUseButtons, Keyboard: KeyboardMainMenu})
	}
}

// Attachment сохраняет вложение в каталог задачи
// <UploadDir>/<YYYY-MM-DD>/<userID>/<ticket>/.
func (w *Wizard) Attachment(ctx context.Context, u User, out Replier, a Attachment) {
	if !w.guard(ctx, u, out) {
		return
	}
	log := logger.FromContext(ctx).With("op", "attachment", "userID", u.ID, "name", a.Name, "size", a.Size)

	sess, ok, err := w.session(ctx, u.ID)
	if err != nil {
		log.Error("get session failed", "error", err)
		w.reply(ctx, out, Reply{Text: msgBusy, Keyboard: KeyboardMainMenu})
		return
	}
	if !ok || sess.Step != model.StepAttachments {
		w.reply(ctx, out, Reply{Text: msgNoSession, Keyboard: KeyboardMainMenu})
		return
	}

	if w.cfg.MaxAttachments > 0 && len(sess.Files) >= w.cfg.MaxAttachments {
		w.reply(ctx, out, Reply{Text: msgAttachmentLimit(w.cfg.MaxAttachments), Keyboard: KeyboardAttachments})
		return
	}
	if w.cfg.MaxAttachmentBytes > 0 && a.Size > w.cfg.MaxAttachmentBytes {
		w.reply(ctx, out, Reply{Text: msgTooLarge(w.cfg.MaxAttachmentBytes), Keyboard: KeyboardAttachments})
		return
	}

	url, err := w.files.GetFileDirectURL(a.FileID)
	if err != nil {
		log.Error("resolve file url failed", "error", err)
		w.reply(ctx, out, Reply{Text: msgSaveFailed, Keyboard: KeyboardAttachments})
		return
	}

	file, err := w.loader.Save(ctx, loader.Request{
		URL:      url,
		Dir:      w.ticketDir(sess),
		Name:     attachmentName(a),
		MIMEType: a.MIMEType,
	})
	if errors.Is(err, model.ErrAttachmentTooLarge) {
		w.reply(ctx, out, Reply{Text: msgTooLarge(w.cfg.MaxAttachmentBytes), Keyboard: KeyboardAttachments})
		return
	}
	if err != nil {
		log.Error("save attachment failed", "error", err)
		w.reply(ctx, out, Reply{Text: msgSaveFailed, Keyboard: KeyboardAttachments})
		return
	}

	sess.Files = append(sess.Files, file)
	if !w.save(ctx, out, sess) {
		return
	}

	log.Info("attachment saved", "path", file.LocalPath, "files", len(sess.Files))
	w.reply(ctx, out, Reply{Text: msgSaved(file.Label(), a.Photo)})
}

func (w *Wizard) ticketDir(sess model.Session) string {
	return filepath.Join(
		w.cfg.UploadDir,
		w.now().Format(time.DateOnly),
		strconv.FormatInt(sess.UserID, 10),
		sess.TicketID,
	)
}

func attachmentName(a Attachment) string {
	if a.Photo {
		return "photo_" + a.UniqueID + ".jpg"
	}
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return "document_" + a.UniqueID
}

// AttachmentsDone завершает прием вложений и показывает сводку.
func (w *Wizard) AttachmentsDone(ctx context.Context, u User, out Replier) {
	if !w.guard(ctx, u, out) {
		return
	}

	sess, ok, err := w.session(ctx, u.ID)
	if err != nil || !ok || sess.Step != model.StepAttachments {
		w.reply(ctx, out, Reply{Text: msgNoSession, Keyboard: KeyboardMainMenu})
		return
	}

	sess.Step = model.StepConfirm
	if w.save(ctx, out, sess) {
		w.reply(ctx, out, Reply{Text: msgSummary(sess.Title, len(sess.Files)), Markdown: true, Keyboard: KeyboardConfirm})
	}
}

// Confirm загружает вложения и создает задачу. Сессия завершается при любом
// исходе, кроме занятого сервера: тогда черновик остается и подтверждение
// можно повторить.
func (w *Wizard) Confirm(ctx context.Context, u User, out Replier) {
	if !w.guard(ctx, u, out) {
		return
	}
	log := logger.FromContext(ctx).With("op", "confirm", "userID", u.ID)

	sess, ok, err := w.session(ctx, u.ID)
	if err != nil || !ok || sess.Step != model.StepConfirm ||
		strings.TrimSpace(sess.Title) == "" || strings.TrimSpace(sess.Description) == "" {
		w.reply(ctx, out, Reply{Text: msgMissingData, Keyboard: KeyboardMainMenu})
		if ok {
			w.drop(ctx, u.ID)
		}
		return
	}
	keep := false
	defer func() {
		if !keep {
			w.drop(ctx, u.ID)
		}
	}()

	createdBy, linked := w.linked(ctx, u.ID)
	if !linked {
		w.reply(ctx, out, Reply{Text: msgNotLinkedSubmit, Keyboard: KeyboardLinkRequired})
		return
	}

	log = log.With("ticket", sess.TicketID, "files", len(sess.Files))
	log.Info("submitting task")

	res, err := w.submitter.Submit(ctx, manager.Draft{
		Title:       sess.Title,
		Description: taskDescription(sess.Description, initiatorBlock(u.ID, sess.Username)),
		CreatedBy:   &createdBy,
		Files:       sess.Files,
		Progress:    &progress{ctx: ctx, w: w, out: out},
	})
	switch {
	case errors.Is(err, model.ErrNoAttachmentsUploaded):
		log.Warn("no attachments uploaded", "failed", len(res.Failed))
		w.reply(ctx, out, Reply{Text: msgNothingUploaded(res.Failed), Keyboard: KeyboardMainMenu})
		return
	case errors.Is(err, model.ErrServerBusy):
		log.Warn("server busy, draft kept")
		keep = true
		w.reply(ctx, out, Reply{Text: msgBusy, Keyboard: KeyboardConfirm})
		return
	case err != nil:
		log.Error("submit task failed", "error", err)
		w.reply(ctx, out, Reply{Text: msgCreateFailed, Keyboard: KeyboardMainMenu})
		return
	}

	link := taskLink(w.cfg.TaskURLTemplate, w.cfg.PortalBase, w.cfg.ResponsibleID, res.TaskID)
	log.Info("task submitted", "taskID", res.TaskID, "attached", len(res.FileIDs), "failed", len(res.Failed))
	w.reply(ctx, out, Reply{
		Text:     msgCreated(res.TaskID, link, len(res.FileIDs), res.Failed),
		Keyboard: KeyboardMainMenu,
	})
}

func (w *Wizard) Cancel(ctx context.Context, u User, out Replier) {
	w.drop(ctx, u.ID)
	w.reply(ctx, out, Reply{Text: msgCancelled, Keyboard: KeyboardMainMenu})
}

// progress пересылает события отправки задачи в чат.
type progress struct {
	ctx context.Context
	w   *Wizard
	out Replier
}

func (p *progress) Uploading(files int) {
	p.w.reply(p.ctx, p.out, Reply{Text: msgUploading(files)})
}

func (p *progress) Uploaded(outcome model.UploadOutcome) {
	if len(outcome.Failed) > 0 {
		p.w.reply(p.ctx, p.out, Reply{Text: msgPartiallyUploaded(outcome.Failed)})
	}
}

func (p *progress) Creating() {
	p.w.reply(p.ctx, p.out, Reply{Text: msgCreating})
}

func newTicketID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])[:ticketIDLen]
}
