package telegram_bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"corpusbot/internal/config"
	"corpusbot/internal/corpus"
	"corpusbot/internal/models"
	"corpusbot/internal/repository"
	"corpusbot/internal/search"
	"corpusbot/internal/service"
)

// MaxMessageLength is Telegram's limit for one text message.
const MaxMessageLength = 4096

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Processor runs one input through the pipeline.
type Processor interface {
	Process(ctx context.Context, text string, mode models.Mode) models.Outcome
}

// Corpus is the read side of the corpus store.
type Corpus interface {
	Count() int
	Stats() corpus.Stats
	WriteJSONArray(w io.Writer) error
}

// Importer imports uploaded documents.
type Importer interface {
	ImportUpload(ctx context.Context, fileID, name string, size int64, open func(ctx context.Context) (io.ReadCloser, error)) (*service.ImportReport, error)
}

// Collector runs a web search collection.
type Collector interface {
	Collect(ctx context.Context, query string, limit int, onProgress func(search.Progress)) (search.Progress, error)
}

// Deps are the services behind the chat commands. Collector and
// Interactions are optional.
type Deps struct {
	Pipeline     Processor
	Modes        *service.ModeRegistry
	Corpus       Corpus
	Importer     Importer
	Collector    Collector
	Interactions repository.InteractionRepository
}

// Bot relays chat messages to the pipeline and renders outcomes.
type Bot struct {
	api    API
	deps   Deps
	cfg    *config.Config
	logger *zap.Logger

	httpClient *http.Client
	started    time.Time
	wg         sync.WaitGroup
}

// NewBotAPI authorizes the configured token. It returns nil when no token
// is configured.
func NewBotAPI(cfg *config.Config, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	if cfg.Telegram.Token == "" {
		logger.Info("Telegram bot is disabled (telegram.token is empty)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	botAPI.Debug = cfg.Telegram.Debug

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))
	return botAPI, nil
}

// NewBot creates a bot on top of api.
func NewBot(api API, cfg *config.Config, deps Deps, logger *zap.Logger) *Bot {
	return &Bot{
		api:        api,
		deps:       deps,
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		started:    time.Now(),
	}
}

// Start receives updates until ctx is done. In webhook mode it registers the
// webhook and returns; updates then arrive through Dispatch.
func (b *Bot) Start(ctx context.Context) error {
	if b == nil {
		return nil
	}

	if b.cfg.Telegram.Mode == "webhook" {
		wh, err := tgbotapi.NewWebhook(b.cfg.Telegram.WebhookURL)
		if err != nil {
			return fmt.Errorf("invalid webhook url: %w", err)
		}
		wh.AllowedUpdates = []string{"message", "callback_query"}
		if _, err := b.api.Request(wh); err != nil {
			return fmt.Errorf("failed to set webhook: %w", err)
		}
		b.logger.Info("Telegram webhook registered", zap.String("url", b.cfg.Telegram.WebhookURL))
		return nil
	}

	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("Failed to delete webhook before polling", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			b.Dispatch(ctx, update)
		}
	}
}

// Dispatch handles update in the background. Handling outlives request
// cancellation so a webhook reply does not abort a pipeline run.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.HandleUpdate(ctx, update)
	}()
}

// Wait blocks until dispatched updates are handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// HandleUpdate handles one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic while handling update", zap.Int("update_id", update.UpdateID), zap.Any("panic", r))
		}
	}()

	if update.CallbackQuery != nil {
		callback := tgbotapi.NewCallback(update.CallbackQuery.ID, "")
		if _, err := b.api.Request(callback); err != nil {
			b.logger.Error("Failed to send callback response", zap.Error(err))
		}
		return
	}
	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	}
}

// sendMessage sends an HTML message and returns its id, or 0 on failure.
func (b *Bot) sendMessage(chatID int64, text string) int {
	msg := tgbotapi.NewMessage(chatID, truncateMessage(text))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	sent, err := b.api.Send(msg)
	if err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
		return 0
	}
	return sent.MessageID
}

// replace edits messageID, or sends a new message when there is none.
func (b *Bot) replace(chatID int64, messageID int, text string) {
	if messageID == 0 {
		b.sendMessage(chatID, text)
		return
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncateMessage(text))
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("Failed to edit message", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendMessage(chatID, text)
	}
}

func (b *Bot) sendDocument(chatID int64, file tgbotapi.RequestFileData) error {
	if _, err := b.api.Send(tgbotapi.NewDocument(chatID, file)); err != nil {
		b.logger.Error("Failed to send document", zap.Int64("chat_id", chatID), zap.Error(err))
		return err
	}
	return nil
}

func (b *Bot) track(ctx context.Context, msg *tgbotapi.Message, kind models.InteractionKind, text string) {
	if b.deps.Interactions == nil || msg.From == nil {
		return
	}
	in := &models.Interaction{
		UserID:   msg.From.ID,
		ChatID:   msg.Chat.ID,
		Username: msg.From.UserName,
		Kind:     kind,
		Length:   utf8.RuneCountInString(text),
		Preview:  truncateRunes(text, 100),
	}
	if err := b.deps.Interactions.Track(ctx, in); err != nil {
		b.logger.Warn("Failed to track interaction", zap.Error(err))
	}
}

// truncateMessage keeps text within MaxMessageLength runes.
func truncateMessage(text string) string {
	if utf8.RuneCountInString(text) <= MaxMessageLength {
		return text
	}
	return truncateRunes(text, MaxMessageLength-3) + "..."
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
