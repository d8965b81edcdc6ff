package telegram_bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"corpusbot/internal/models"
	"corpusbot/internal/search"
)

const maxSearchResults = 50

const commandList = "<code>/d</code> - Data collection mode\n" +
	"<code>/q</code> - Question mode\n" +
	"<code>/search [query] [num]</code> - Search the web and collect data\n" +
	"<code>/searchstats</code> - Collection statistics\n" +
	"<code>/status</code> - Bot status and training progress\n" +
	"<code>/data</code> - Download training data\n" +
	"<code>/bug</code> - Download incident log\n" +
	"<code>/url</code> - Web interface URL\n" +
	"<code>/menu</code> - Show all commands\n"

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch strings.ToLower(msg.Command()) {
	case "start":
		name := "traveler"
		if msg.From != nil && msg.From.FirstName != "" {
			name = html.EscapeString(msg.From.FirstName)
		}
		b.sendMessage(chatID, fmt.Sprintf("🏛️ <b>Greetings, %s!</b>\n\n", name)+
			"I am <b>The Legendary King of Ancient Sri Lanka</b>, here to guide you through my magnificent Lanka "+
			"and to collect training data for AI.\n\n"+
			"<b>Available commands:</b>\n"+commandList+"\n"+
			"Send me data or questions to help train the AI about my Lanka!")

	case "help", "menu":
		b.sendMessage(chatID, "📋 <b>Commands Available:</b>\n\n"+commandList+"\n"+
			"💡 <b>How to use:</b>\n"+
			"1. Use /d for data collection\n"+
			"2. Use /q for asking questions\n"+
			"3. Send your message and I'll process it!\n"+
			"4. Upload .json, .jsonl, .csv or .txt files to import them")

	case "status":
		b.handleStatus(msg)

	case "ping":
		b.sendMessage(chatID, "⚡ The King responds swiftly!\nLanka's power flows strong at "+time.Now().UTC().Format("15:04:05"))

	case "d":
		b.setMode(ctx, chatID, models.ModeData, "📊 <b>Data Collection Mode Activated</b>\n\n"+
			"Now send me training data about Sri Lankan tourism, history, or culture.\n"+
			"I will process it as The Legendary King and create structured training data!")

	case "q":
		b.setMode(ctx, chatID, models.ModeQuestion, "❓ <b>Question Mode Activated</b>\n\n"+
			"Ask me anything about my Lanka's attractions, history, or culture.\n"+
			"I shall respond as The Legendary King and generate training data!")

	case "data":
		b.handleData(chatID)

	case "bug":
		b.handleBug(chatID)

	case "url":
		base := b.cfg.Server.BaseURL
		if base == "" {
			b.sendMessage(chatID, "🌐 The web interface URL is not configured.")
			return
		}
		escaped := html.EscapeString(base)
		b.sendMessage(chatID, "🌐 <b>Web Interface URL:</b>\n\n"+
			fmt.Sprintf("<a href=\"%s\">%s</a>\n\n", escaped, escaped)+
			"Use the HTTP API to process text and export the corpus.")

	case "search":
		b.handleSearch(ctx, chatID, msg.CommandArguments())

	case "searchstats":
		b.handleSearchStats(ctx, chatID)

	default:
		b.sendMessage(chatID, fmt.Sprintf("❓ Unknown command: <code>/%s</code>\n\nUse /help to see available commands, traveler.",
			html.EscapeString(msg.Command())))
	}
}

func (b *Bot) setMode(ctx context.Context, chatID int64, mode models.Mode, reply string) {
	if err := b.deps.Modes.Set(ctx, chatID, mode); err != nil {
		b.logger.Error("Failed to set chat mode", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendMessage(chatID, "❌ Could not switch mode. Please try again.")
		return
	}
	b.sendMessage(chatID, reply)
}

func (b *Bot) handleStatus(msg *tgbotapi.Message) {
	var sb strings.Builder
	sb.WriteString("👑 <b>The Legendary King's Status:</b>\n\n")
	sb.WriteString("🟢 Status: Online and Ready\n")
	fmt.Fprintf(&sb, "⏰ Uptime: %s\n", uptime(time.Since(b.started)))
	fmt.Fprintf(&sb, "📚 Training Data Collected: %d entries\n", b.deps.Corpus.Count())
	fmt.Fprintf(&sb, "📡 Mode: %s\n", html.EscapeString(b.transportMode()))
	if msg.From != nil {
		fmt.Fprintf(&sb, "👤 Your ID: <code>%d</code>\n", msg.From.ID)
	}
	fmt.Fprintf(&sb, "📅 Time: %s UTC\n\n", time.Now().UTC().Format("2006-01-02 15:04:05"))
	sb.WriteString("My Lanka's wisdom grows with each contribution!")
	b.sendMessage(msg.Chat.ID, sb.String())
}

func (b *Bot) transportMode() string {
	if b.cfg.Telegram.Mode == "webhook" {
		return "webhook " + b.cfg.Telegram.WebhookURL
	}
	return "polling"
}

func uptime(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "Less than a minute"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
}

func (b *Bot) handleData(chatID int64) {
	if b.deps.Corpus.Count() == 0 {
		b.sendMessage(chatID, "❌ <b>No training data available yet</b>\n\nStart sending data to create the training file!")
		return
	}

	var buf bytes.Buffer
	if err := b.deps.Corpus.WriteJSONArray(&buf); err != nil {
		b.logger.Error("Failed to export corpus", zap.Error(err))
		b.sendMessage(chatID, "❌ <b>Failed to prepare training data file</b>\n\nPlease try again later.")
		return
	}

	if err := b.sendDocument(chatID, tgbotapi.FileBytes{Name: "train.json", Bytes: buf.Bytes()}); err != nil {
		b.sendMessage(chatID, "❌ <b>Failed to send training data file</b>\n\nPlease try again later.")
	}
}

func (b *Bot) handleBug(chatID int64) {
	path := b.cfg.Incidents.Path
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		b.sendMessage(chatID, "✅ <b>No incidents reported yet!</b>\n\nThe system is running smoothly.")
		return
	}
	if err := b.sendDocument(chatID, tgbotapi.FilePath(path)); err != nil {
		b.sendMessage(chatID, "❌ <b>Failed to send incident log</b>\n\nPlease try again later.")
	}
}

const searchUsage = "❌ <b>Invalid search command</b>\n\n" +
	"<b>Usage:</b>\n<code>/search [query] [number of results]</code>\n\n" +
	"<b>Example:</b>\n<code>/search Sri Lanka tourism 10</code>"

// ParseSearchArgs splits "/search" arguments into query and result count.
// The count is the last word and must be between 1 and 50.
func ParseSearchArgs(args string) (string, int, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return "", 0, errors.New("query and number of results are required")
	}
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return "", 0, errors.New("the last parameter must be a number between 1 and 50")
	}
	if n < 1 || n > maxSearchResults {
		return "", 0, errors.New("number of results must be between 1 and 50")
	}
	return strings.Join(parts[:len(parts)-1], " "), n, nil
}

func (b *Bot) handleSearch(ctx context.Context, chatID int64, args string) {
	if b.deps.Collector == nil {
		b.sendMessage(chatID, "❌ Search functionality is currently unavailable. Please try again later.")
		return
	}

	query, n, err := ParseSearchArgs(args)
	if err != nil {
		if len(strings.Fields(args)) < 2 {
			b.sendMessage(chatID, searchUsage)
		} else {
			b.sendMessage(chatID, "❌ "+html.EscapeString(err.Error()))
		}
		return
	}

	progressID := b.sendMessage(chatID, fmt.Sprintf("🔍 <b>Search collection starting...</b>\n\nQuery: <code>%s</code>\nResults to process: %d",
		html.EscapeString(query), n))

	var lastEdit time.Time
	progress, err := b.deps.Collector.Collect(ctx, query, n, func(p search.Progress) {
		if time.Since(lastEdit) < 3*time.Second || p.TotalURLs == 0 {
			return
		}
		lastEdit = time.Now()
		b.replace(chatID, progressID, renderSearchProgress(p))
	})
	if err != nil {
		b.logger.Error("Search collection failed", zap.String("query", query), zap.Error(err))
		b.replace(chatID, progressID, "❌ <b>Search Failed</b>\n\nError: "+html.EscapeString(err.Error())+
			"\n\nPlease try again with a different query.")
		return
	}

	b.replace(chatID, progressID, renderSearchSummary(progress))
}

func renderSearchProgress(p search.Progress) string {
	pct := 0
	if p.TotalURLs > 0 {
		pct = p.Processed * 100 / p.TotalURLs
	}
	filled := pct / 10
	bar := strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 <b>Collecting:</b> <code>%s</code>\n\n", html.EscapeString(p.Query))
	fmt.Fprintf(&sb, "Progress: %s %d%%\n", bar, pct)
	fmt.Fprintf(&sb, "URLs: %d/%d processed\n", p.Processed, p.TotalURLs)
	fmt.Fprintf(&sb, "Chunks: %d\n", p.Chunks)
	fmt.Fprintf(&sb, "Entries added: %d\n", p.EntriesAdded)
	if p.CurrentURL != "" {
		fmt.Fprintf(&sb, "\nCurrent: %s", html.EscapeString(p.CurrentURL))
	}
	return sb.String()
}

func renderSearchSummary(p search.Progress) string {
	var sb strings.Builder
	sb.WriteString("🎉 <b>Search Collection Finished!</b>\n\n")
	fmt.Fprintf(&sb, "🔍 <b>Query:</b> <code>%s</code>\n", html.EscapeString(p.Query))
	fmt.Fprintf(&sb, "📊 <b>Search Results Found:</b> %d\n", p.TotalURLs)
	fmt.Fprintf(&sb, "✅ <b>URLs Successfully Processed:</b> %d\n", p.Successful)
	if p.Irrelevant > 0 {
		fmt.Fprintf(&sb, "⏭️ <b>Unrelated Titles Skipped:</b> %d\n", p.Irrelevant)
	}
	if p.Failed > 0 {
		fmt.Fprintf(&sb, "❌ <b>URLs Failed:</b> %d\n", p.Failed)
	}
	fmt.Fprintf(&sb, "🎓 <b>Training Entries Added:</b> %d\n", p.EntriesAdded)
	if len(p.Incidents) > 0 {
		fmt.Fprintf(&sb, "⚠️ <b>Incidents:</b> <code>%s</code>\n", html.EscapeString(strings.Join(p.Incidents, ", ")))
	}
	fmt.Fprintf(&sb, "⏱️ <b>Elapsed:</b> %s", p.Elapsed.Round(time.Second))
	return sb.String()
}

func (b *Bot) handleSearchStats(ctx context.Context, chatID int64) {
	st := b.deps.Corpus.Stats()

	var sb strings.Builder
	sb.WriteString("📊 <b>Data Collection Statistics</b>\n\n")
	fmt.Fprintf(&sb, "🎓 <b>Training Data Entries:</b> %d\n", st.Count)
	fmt.Fprintf(&sb, "💾 <b>Data File Size:</b> %s\n", formatBytes(st.SizeBytes))

	if b.deps.Interactions != nil {
		stats, err := b.deps.Interactions.Stats(ctx)
		if err != nil {
			b.logger.Warn("Failed to load interaction stats", zap.Error(err))
		} else {
			fmt.Fprintf(&sb, "\n👥 <b>Unique Users:</b> %d\n", stats.UniqueUsers)
			fmt.Fprintf(&sb, "💬 <b>Messages:</b> %d\n", stats.Total)
			fmt.Fprintf(&sb, "   data: %d, questions: %d, commands: %d, documents: %d\n",
				stats.ByKind[models.InteractionData],
				stats.ByKind[models.InteractionQuestion],
				stats.ByKind[models.InteractionCommand],
				stats.ByKind[models.InteractionDocument])
		}
	}

	sb.WriteString("\n📈 <b>Commands:</b>\n")
	sb.WriteString("<code>/search [query] [num]</code> - Search and collect data\n")
	sb.WriteString("<code>/searchstats</code> - Show these statistics")
	b.sendMessage(chatID, sb.String())
}
