package telegram_bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"corpusbot/internal/models"
	"corpusbot/internal/service"
)

const (
	promptPreviewRunes   = 200
	responsePreviewRunes = 300
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch {
	case msg.Document != nil:
		b.track(ctx, msg, models.InteractionDocument, msg.Document.FileName)
		b.handleDocument(ctx, msg)
	case len(msg.Photo) > 0:
		b.sendMessage(chatID, "🖼️ <b>Image received!</b>\n\n"+
			"The Legendary King acknowledges your visual offering. "+
			"Images are not turned into training data yet; send text or a document instead.")
	case msg.IsCommand():
		b.track(ctx, msg, models.InteractionCommand, msg.Text)
		b.handleCommand(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		mode := b.deps.Modes.Get(ctx, chatID)
		b.track(ctx, msg, models.InteractionKind(mode), msg.Text)
		b.handleText(ctx, chatID, msg.Text, mode)
	}
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string, mode models.Mode) {
	b.logger.Info("Processing chat message",
		zap.Int64("chat_id", chatID),
		zap.String("mode", string(mode)),
		zap.Int("length", len(text)))

	progressID := b.sendMessage(chatID, fmt.Sprintf(
		"⏳ <b>Processing your %s...</b>\n\nThe Legendary King is analyzing your input...", mode))

	out := b.deps.Pipeline.Process(ctx, text, mode)
	b.replace(chatID, progressID, RenderOutcome(out))

	if out.Accepted() && out.Record != nil {
		b.sendMessage(chatID, codeMessage("📝 <b>Full Generated Prompt:</b>\n", out.Record.Prompt))
		b.sendMessage(chatID, codeMessage("🏛️ <b>Full King's Response:</b>\n", out.Record.Response))
	}
}

// codeMessage wraps text in a code block under header. The raw text is cut
// before escaping so entities and the closing tag are never split.
func codeMessage(header, text string) string {
	const open, closing, ellipsis = "<code>", "</code>", "..."

	budget := MaxMessageLength - utf8.RuneCountInString(header) - len(open) - len(closing)
	escaped := html.EscapeString(text)
	if utf8.RuneCountInString(escaped) > budget {
		budget -= len(ellipsis)
		var sb strings.Builder
		used := 0
		for _, r := range text {
			e := html.EscapeString(string(r))
			n := utf8.RuneCountInString(e)
			if used+n > budget {
				break
			}
			sb.WriteString(e)
			used += n
		}
		escaped = sb.String() + ellipsis
	}
	return header + open + escaped + closing
}

// RenderOutcome formats a pipeline outcome as an HTML chat message.
func RenderOutcome(out models.Outcome) string {
	var sb strings.Builder

	switch out.Kind {
	case models.OutcomeAccepted:
		sb.WriteString("✅ <b>Training data processed successfully!</b>\n\n")
		if out.Record != nil {
			sb.WriteString("📝 <b>Generated Prompt:</b>\n")
			sb.WriteString(preview(out.Record.Prompt, promptPreviewRunes))
			sb.WriteString("\n\n🏛️ <b>King's Response:</b>\n")
			sb.WriteString(preview(out.Record.Response, responsePreviewRunes))
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "📊 <b>Total training entries:</b> %d\n\n", out.Count)
		sb.WriteString("Send more quality data to help train the AI about my Lanka!")

	case models.OutcomeDuplicate:
		sb.WriteString("⏳ <b>Already processing</b>\n\nThis content is still being processed. Please wait for the result.")

	default:
		sb.WriteString("⚠️ <b>Processing Error</b>\n\n")
		switch {
		case out.Kind == models.OutcomeGeneratorExhausted:
			sb.WriteString("Sorry, none of the generators could process your message right now.")
		case out.Reason == models.ReasonMalformedRecord:
			sb.WriteString("Sorry, the generated training data was malformed and was not saved.")
		case out.Reason == models.ReasonStoreFailure:
			sb.WriteString("Sorry, the training data could not be saved.")
		default:
			sb.WriteString("Sorry, something went wrong while processing your message.")
		}
		sb.WriteString(" Please do not resend it until this is fixed.")
		if out.IncidentCode != "" {
			fmt.Fprintf(&sb, "\n\nPlease report this incident code: <code>%s</code>", html.EscapeString(out.IncidentCode))
		}
	}
	return sb.String()
}

// preview escapes s for HTML after cutting it to n runes.
func preview(s string, n int) string {
	cut := truncateRunes(s, n)
	if cut != s {
		return html.EscapeString(cut) + "..."
	}
	return html.EscapeString(s)
}

func (b *Bot) handleDocument(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	doc := msg.Document

	name := doc.FileName
	if name == "" {
		name = doc.FileID
	}

	b.logger.Info("Processing document",
		zap.Int64("chat_id", chatID),
		zap.String("file_name", name),
		zap.Int64("file_size", int64(doc.FileSize)))

	progressID := b.sendMessage(chatID, "📄 <b>Processing document...</b>\n\nThe Legendary King is analyzing your file...")

	report, err := b.deps.Importer.ImportUpload(ctx, doc.FileID, name, int64(doc.FileSize), func(ctx context.Context) (io.ReadCloser, error) {
		return b.download(ctx, doc.FileID)
	})

	switch {
	case errors.Is(err, service.ErrDuplicateInFlight):
		b.logger.Info("Document already being processed, skipping", zap.String("file_id", doc.FileID))
		b.replace(chatID, progressID, "⏳ <b>Already processing</b>\n\nThis document is still being processed.")
	case err != nil:
		b.logger.Error("Document processing failed", zap.String("file_name", name), zap.Error(err))
		b.replace(chatID, progressID, "❌ <b>Document processing failed</b>\n\n"+html.EscapeString(documentError(err, b.cfg.Telegram.MaxUploadBytes)))
	default:
		b.replace(chatID, progressID, renderImport(report))
	}
}

func documentError(err error, maxBytes int64) string {
	switch {
	case errors.Is(err, service.ErrTooLarge):
		return fmt.Sprintf("File too large. Maximum size is %s.", formatBytes(maxBytes))
	case errors.Is(err, service.ErrAlreadyProcessed):
		return "File already processed. Please upload a new file."
	case errors.Is(err, service.ErrUnsupportedFormat):
		return "File type not supported. Send a .json, .jsonl, .csv or .txt file."
	case errors.Is(err, service.ErrInvalidDocument):
		return err.Error()
	default:
		return "Error processing file. Please try again later."
	}
}

func renderImport(r *service.ImportReport) string {
	var sb strings.Builder
	sb.WriteString("✅ <b>Document processed successfully!</b>\n\n")
	fmt.Fprintf(&sb, "📄 <b>File:</b> %s\n", html.EscapeString(r.Name))
	fmt.Fprintf(&sb, "🎓 <b>Training entries added:</b> %d\n", r.Added())
	if r.Batches > 0 {
		fmt.Fprintf(&sb, "📦 <b>Text batches:</b> %d\n", r.Batches)
	}
	if r.Skipped > 0 {
		fmt.Fprintf(&sb, "⏭️ <b>Skipped:</b> %d\n", r.Skipped)
	}
	if len(r.Incidents) > 0 {
		fmt.Fprintf(&sb, "⚠️ <b>Failed batches:</b> %d (codes: <code>%s</code>)\n",
			len(r.Incidents), html.EscapeString(strings.Join(r.Incidents, ", ")))
	}
	fmt.Fprintf(&sb, "📊 <b>Total training entries:</b> %d", r.Count)
	return sb.String()
}

func (b *Bot) download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	link, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func formatBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB"}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.2f", v), "0"), ".0") + " " + units[i]
}
