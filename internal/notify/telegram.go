package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bcpea_notifier/internal/model"
)

// Telegram rejects messages longer than 4096 characters.
const telegramLimit = 4000

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts a plain-text summary to the chat linked to a subscriber.
type TelegramNotifier struct {
	api   telegramAPI
	chats map[string]int64
	log   *slog.Logger
}

// NewTelegramNotifier creates a notifier for the bot token. chats maps subscriber
// emails to chat ids; subscribers without a chat are skipped.
func NewTelegramNotifier(token string, chats map[string]int64, log *slog.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newTelegramNotifier(api, chats, log), nil
}

func newTelegramNotifier(api telegramAPI, chats map[string]int64, log *slog.Logger) *TelegramNotifier {
	normalized := make(map[string]int64, len(chats))
	for email, id := range chats {
		normalized[strings.ToLower(strings.TrimSpace(email))] = id
	}
	return &TelegramNotifier{api: api, chats: normalized, log: log}
}

// Notify sends the summary to the subscriber's chat, split into several messages when long.
func (t *TelegramNotifier) Notify(ctx context.Context, user string, groups []model.GroupReport) error {
	chatID, ok := t.chats[strings.ToLower(strings.TrimSpace(user))]
	if !ok || len(groups) == 0 {
		return nil
	}

	for _, text := range FormatTelegram(groups) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := t.api.Send(msg); err != nil {
			return fmt.Errorf("send telegram message to %s: %w", user, err)
		}
	}
	t.log.Info("telegram summary sent", "user", user, "chat_id", chatID, "groups", len(groups))
	return nil
}

// FormatTelegram renders the groups as plain-text messages that fit the Telegram limit.
func FormatTelegram(groups []model.GroupReport) []string {
	var blocks []string
	for _, g := range groups {
		blocks = append(blocks, fmt.Sprintf("[%s – %s, filter group %d]\n%d %s found",
			g.Region, g.Category.Label(), g.GroupID, g.Count, strings.ToLower(g.Category.Label())))
		for _, l := range g.Listings {
			blocks = append(blocks, formatListing(l))
		}
	}

	var msgs []string
	var cur strings.Builder
	for _, block := range blocks {
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+utf8.RuneCountInString(block)+2 > telegramLimit {
			msgs = append(msgs, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(truncate(block, telegramLimit))
	}
	if cur.Len() > 0 {
		msgs = append(msgs, cur.String())
	}
	return msgs
}

func formatListing(l model.Listing) string {
	var b strings.Builder
	b.WriteString(l.Title)
	if l.Settlement != "" {
		b.WriteString(", " + l.Settlement)
	}
	if l.Address != "" {
		b.WriteString("\n" + l.Address)
	}
	if l.Area != "" {
		b.WriteString("\nArea: " + l.Area)
	}
	if l.Price != "" {
		b.WriteString("\nPrice: " + l.Price)
	}
	if l.KaisID != "" {
		b.WriteString("\nKaisCadastre ID: " + l.KaisID)
	}
	if l.URL != "" {
		b.WriteString("\n" + l.URL)
	}
	return b.String()
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
