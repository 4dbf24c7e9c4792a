package bot

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"

	"ordersync/internal/lib/sl"
)

// sender is the part of the Bot API the notifier uses
type sender interface {
	SendMessage(chatId int64, text string, opts *tgbotapi.SendMessageOpts) (*tgbotapi.Message, error)
}

type TgBot struct {
	log         *slog.Logger
	api         *tgbotapi.Bot
	sender      sender
	botUsername string
	adminIds    []int64
	minLogLevel slog.Level
	mu          sync.RWMutex
	adminLevels map[int64]slog.Level
}

func NewTgBot(botName, apiKey string, adminIdsStr string, log *slog.Logger) (*TgBot, error) {
	adminIds, err := ParseIds(adminIdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid admin_id value: %q, must be a comma-separated list of integers", adminIdsStr)
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}

	tgBot := newBot(api, botName, adminIds, log)
	tgBot.api = api
	return tgBot, nil
}

func newBot(s sender, botName string, adminIds []int64, log *slog.Logger) *TgBot {
	// the first admin gets everything, the rest warnings and up
	adminLevels := make(map[int64]slog.Level)
	for i, adminId := range adminIds {
		if i == 0 {
			adminLevels[adminId] = slog.LevelDebug
		} else {
			adminLevels[adminId] = slog.LevelWarn
		}
	}

	return &TgBot{
		log:         log.With(sl.Module("tgbot")),
		sender:      s,
		adminIds:    adminIds,
		botUsername: botName,
		minLogLevel: slog.LevelDebug,
		adminLevels: adminLevels,
	}
}

// ParseIds reads a comma-separated list of chat ids; empty input gives none.
func ParseIds(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *TgBot) Start() error {
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Warn("handling update", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	updater := ext.NewUpdater(dispatcher, nil)

	dispatcher.AddHandler(handlers.NewCommand("level", t.level))

	err := updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("start polling: %w", err)
	}

	updater.Idle()
	return nil
}

// SetMinLogLevel sets the minimum log level for all admin notifications
func (t *TgBot) SetMinLogLevel(level slog.Level) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLogLevel = level
	for _, adminId := range t.adminIds {
		t.adminLevels[adminId] = level
	}
}

func (t *TgBot) SetAdminLogLevel(adminId int64, level slog.Level) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adminLevels[adminId] = level
}

func (t *TgBot) adminLevel(adminId int64) slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	level, ok := t.adminLevels[adminId]
	if !ok {
		return t.minLogLevel
	}
	return level
}

func (t *TgBot) isAdmin(userId int64) bool {
	for _, adminId := range t.adminIds {
		if userId == adminId {
			return true
		}
	}
	return false
}

// level handles the /level command
func (t *TgBot) level(b *tgbotapi.Bot, ctx *ext.Context) error {
	userId := ctx.EffectiveUser.Id
	if !t.isAdmin(userId) {
		_, err := ctx.EffectiveMessage.Reply(b, "You are not authorized to use this command.", nil)
		return err
	}
	t.plainResponse(userId, t.levelCommand(userId, strings.Fields(ctx.EffectiveMessage.Text)))
	return nil
}

func (t *TgBot) levelCommand(userId int64, args []string) string {
	if len(args) < 2 {
		return fmt.Sprintf("Your current log level: %s\nAvailable levels: debug, info, warn, error", t.adminLevel(userId))
	}

	var level slog.Level
	switch name := strings.ToLower(args[1]); name {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Sprintf("Invalid level: %s\nAvailable levels: debug, info, warn, error", name)
	}

	t.SetAdminLogLevel(userId, level)
	return fmt.Sprintf("Your log level set to: %s", level)
}

func (t *TgBot) SendMessage(msg string) {
	t.SendMessageWithLevel(msg, t.minLogLevel)
}

// SendMessageWithLevel sends a log message to every admin whose level allows it
func (t *TgBot) SendMessageWithLevel(msg string, level slog.Level) {
	for _, adminId := range t.adminIds {
		if level >= t.adminLevel(adminId) {
			t.plainResponse(adminId, msg)
		}
	}
}

// Notify sends an order notification to each recipient and a copy to the
// first admin. Failed deliveries are reported to the admins.
func (t *TgBot) Notify(text string, recipients ...int64) error {
	if text == "" {
		return nil
	}
	targets := recipients
	if len(t.adminIds) > 0 && !contains(recipients, t.adminIds[0]) {
		targets = append(append([]int64(nil), recipients...), t.adminIds[0])
	}

	failed := 0
	for _, chatId := range targets {
		if _, err := t.sender.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{}); err != nil {
			failed++
			t.log.With(
				slog.Int64("id", chatId),
				sl.Err(err),
			).Warn("sending notification")
			t.SendMessageWithLevel(fmt.Sprintf("notification to %d failed: %v", chatId, err), slog.LevelError)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d notifications failed", failed, len(targets))
	}
	return nil
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (t *TgBot) plainResponse(chatId int64, text string) {
	if text == "" {
		t.log.With(
			slog.Int64("id", chatId),
		).Debug("empty message")
		return
	}

	_, err := t.sender.SendMessage(chatId, Sanitize(text), &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err == nil {
		return
	}
	t.log.With(
		slog.Int64("id", chatId),
	).Warn("sending message", sl.Err(err))
	_, err = t.sender.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{})
	if err != nil {
		t.log.With(
			slog.Int64("id", chatId),
		).Error("sending safe message", sl.Err(err))
	}
}

// markdownReserved are the MarkdownV2 characters escaped by Sanitize
const markdownReserved = "\\_{}#+-.!|()[]=*"

// Sanitize escapes text for MarkdownV2 messages.
func Sanitize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if strings.ContainsRune(markdownReserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
