// Package telegram connects the conversation engine to the Telegram
// Bot API over long polling.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/relaybot/relay/internal/attachments"
	"github.com/relaybot/relay/internal/cache"
	"github.com/relaybot/relay/internal/channels"
	"github.com/relaybot/relay/internal/engine"
	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/pkg/models"
)

// Reloader re-reads configuration on demand. Satisfied by the config
// watcher; wired here for the #reload admin command.
type Reloader interface {
	Reload() error
}

// Config holds the adapter settings.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// AdminIDs are the Telegram user ids allowed to run #clearall
	// and #reload.
	AdminIDs []int64

	// RateLimit is outbound calls per second. Telegram allows about
	// 30 messages per second per bot.
	RateLimit float64

	// RateBurst is the burst capacity.
	RateBurst int

	Logger *slog.Logger

	// Metrics counts message flow; nil disables counting.
	Metrics *observability.Metrics
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram: token is required")
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter receives Telegram updates, drives the engine and delivers
// its replies.
type Adapter struct {
	config      Config
	engine      *engine.Engine
	attachments *attachments.Store
	reloader    Reloader
	logger      *slog.Logger

	bot      *bot.Bot
	limiter  *channels.RateLimiter
	dedupe   *cache.Dedupe
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	status   channels.Status
	statusMu sync.RWMutex
}

// NewAdapter creates the adapter. reloader may be nil; the #reload
// command then reports that reloading is unavailable.
func NewAdapter(config Config, eng *engine.Engine, store *attachments.Store, reloader Reloader) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:      config,
		engine:      eng,
		attachments: store,
		reloader:    reloader,
		logger:      config.Logger.With("adapter", "telegram"),
		limiter:     channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		dedupe:      cache.NewDedupe(5*time.Minute, 0),
	}, nil
}

// Name implements channels.Adapter.
func (a *Adapter) Name() string { return "telegram" }

// Status implements channels.Adapter.
func (a *Adapter) Status() channels.Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

// Start connects and begins long polling.
func (a *Adapter) Start(ctx context.Context) error {
	b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		a.setStatus(false, err.Error())
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.setStatus(true, "")
		a.logger.Info("telegram adapter started")
		b.Start(runCtx)
		a.setStatus(false, "")
		a.logger.Info("telegram adapter stopped")
	}()
	return nil
}

// Stop shuts down polling and waits for in-flight handlers.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: stop: %w", ctx.Err())
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	// Long polling can redeliver updates after a restart or timeout.
	if a.dedupe.Seen(fmt.Sprintf("%d:%d", msg.Chat.ID, msg.ID)) {
		return
	}
	a.config.Metrics.MessageReceived("telegram")

	chatID := msg.Chat.ID
	sessionID := fmt.Sprintf("telegram:%d", chatID)

	a.logger.Debug("update received",
		"chat_id", chatID,
		"has_photo", len(msg.Photo) > 0,
		"has_document", msg.Document != nil)

	a.touchPing()

	if handled := a.handleCommand(ctx, chatID, sessionID, msg); handled {
		return
	}

	contents, err := a.convertMessage(ctx, msg)
	if err != nil {
		a.logger.Warn("attachment preparation failed", "chat_id", chatID, "error", err)
		a.sendText(ctx, chatID, "I couldn't read that attachment. Please try sending it again.")
		return
	}
	if len(contents) == 0 {
		return
	}

	reply := a.engine.HandleIncoming(ctx, sessionID, contents...)
	a.deliver(ctx, chatID, reply)
}

// convertMessage turns one Telegram message into content parts. A
// photo with a caption yields both the image and the caption text.
func (a *Adapter) convertMessage(ctx context.Context, msg *tgmodels.Message) ([]models.Content, error) {
	var contents []models.Content

	if len(msg.Photo) > 0 {
		// Sizes arrive smallest first; take the largest.
		fileID := msg.Photo[len(msg.Photo)-1].FileID
		url, err := a.fileURL(ctx, fileID)
		if err != nil {
			return nil, err
		}
		image, err := a.attachments.PrepareImage(ctx, url)
		if err != nil {
			return nil, err
		}
		contents = append(contents, image)
	}

	if msg.Document != nil {
		url, err := a.fileURL(ctx, msg.Document.FileID)
		if err != nil {
			return nil, err
		}
		ref := models.FileRef{
			URL:      url,
			Name:     msg.Document.FileName,
			MimeType: msg.Document.MimeType,
		}
		// Fetch up front so providers work from a local copy instead
		// of a Bot API link that expires.
		path, err := a.attachments.PrepareFile(ctx, ref)
		if err != nil {
			return nil, err
		}
		ref.Path = path
		contents = append(contents, ref)
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text != "" {
		contents = append(contents, models.Text{Text: text})
	}

	return contents, nil
}

func (a *Adapter) fileURL(ctx context.Context, fileID string) (string, error) {
	file, err := a.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file %s: %w", fileID, err)
	}
	return a.bot.FileDownloadLink(file), nil
}

// deliver maps a Reply onto the matching Bot API send call.
func (a *Adapter) deliver(ctx context.Context, chatID int64, reply models.Reply) {
	if err := a.limiter.Wait(ctx); err != nil {
		a.logger.Warn("rate limit wait cancelled", "chat_id", chatID, "error", err)
		return
	}

	var err error
	switch reply.Kind {
	case models.ReplyText, models.ReplyError:
		err = a.send(ctx, chatID, reply.Text)

	case models.ReplyImage:
		err = a.sendPhoto(ctx, chatID, reply)

	case models.ReplyFile:
		err = a.sendDocument(ctx, chatID, reply)

	case models.ReplyVideo:
		_, err = a.bot.SendVideo(ctx, &bot.SendVideoParams{
			ChatID:  chatID,
			Video:   &tgmodels.InputFileString{Data: reply.URL},
			Caption: reply.Caption,
		})

	default:
		a.logger.Error("unhandled reply kind", "kind", reply.Kind)
		return
	}

	if err != nil {
		a.logger.Error("reply delivery failed",
			"chat_id", chatID, "kind", reply.Kind, "error", err)
		return
	}
	a.config.Metrics.MessageSent("telegram")
}

func (a *Adapter) sendPhoto(ctx context.Context, chatID int64, reply models.Reply) error {
	var photo tgmodels.InputFile
	switch {
	case reply.URL != "":
		photo = &tgmodels.InputFileString{Data: reply.URL}
	case len(reply.Data) > 0:
		photo = &tgmodels.InputFileUpload{
			Filename: "image" + extensionFor(reply.MimeType),
			Data:     bytes.NewReader(reply.Data),
		}
	default:
		return errors.New("image reply carries neither url nor data")
	}

	_, err := a.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:  chatID,
		Photo:   photo,
		Caption: reply.Caption,
	})
	return err
}

func (a *Adapter) sendDocument(ctx context.Context, chatID int64, reply models.Reply) error {
	if reply.Path != "" {
		f, err := os.Open(reply.Path)
		if err != nil {
			return fmt.Errorf("open reply file: %w", err)
		}
		defer f.Close()

		_, err = a.bot.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:   chatID,
			Document: &tgmodels.InputFileUpload{Filename: filepath.Base(reply.Path), Data: f},
			Caption:  reply.Caption,
		})
		return err
	}
	if reply.URL != "" {
		_, err := a.bot.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:   chatID,
			Document: &tgmodels.InputFileString{Data: reply.URL},
			Caption:  reply.Caption,
		})
		return err
	}
	return errors.New("file reply carries neither path nor url")
}

func (a *Adapter) send(ctx context.Context, chatID int64, text string) error {
	_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	return err
}

// sendText is send with rate limiting, for paths outside deliver.
func (a *Adapter) sendText(ctx context.Context, chatID int64, text string) {
	if err := a.limiter.Wait(ctx); err != nil {
		return
	}
	if err := a.send(ctx, chatID, text); err != nil {
		a.logger.Error("send failed", "chat_id", chatID, "error", err)
		return
	}
	a.config.Metrics.MessageSent("telegram")
}

func (a *Adapter) isAdmin(userID int64) bool {
	for _, id := range a.config.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (a *Adapter) setStatus(connected bool, errMsg string) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.Connected = connected
	a.status.Error = errMsg
}

func (a *Adapter) touchPing() {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.LastPing = time.Now()
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
