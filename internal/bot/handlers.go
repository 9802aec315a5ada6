package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"moviebot/internal/detail"
	"moviebot/internal/search"
	"moviebot/internal/telegram"
	"moviebot/internal/token"

	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// usedCallback данные погашенной кнопки.
const usedCallback = "used"

// findLimit сколько постов блога показывает /find.
const findLimit = 3

const (
	msgHelpHeader = "🎬 <b>Movie Search Bot</b>\n\n" +
		"Send a tag followed by a title:\n" +
		"• <code>#movie Inception</code>\n" +
		"• <code>#tv Friends</code>\n" +
		"• <code>#series Dark</code>\n\n" +
		"Tap a result button to get the poster, details and a download link."
	msgHelpFind     = "\n\n📰 <code>/find name</code> searches our blog posts."
	msgPrompt       = "✍️ Please provide a name after the tag, e.g. <code>#movie Inception</code>"
	msgUnavailable  = "⚠️ Service is temporarily unavailable. Please try again later."
	msgNoResults    = "😕 Sorry <b>%s</b>, no results found for <b>%s</b>. Check the spelling and try again."
	msgThrottled    = "⏳ Too many searches, please wait a moment and try again."
	msgExpired      = "⌛ This result has expired. Please search again."
	msgFetchFailed  = "⚠️ Could not load this title right now. Please try again later."
	msgNoLink       = "😕 No download link was found for this title."
	msgWarning      = "⚠️ %s, links are not allowed here."
	msgWelcome      = "👋 Welcome, <b>%s</b>!\n\n"
	msgFindUsage    = "✍️ Usage: <code>/find name</code>"
	msgFindNothing  = "😕 Nothing found for <b>%s</b>."
	msgFindHeader   = "📰 Blog posts for <b>%s</b>:\n"
	msgAlreadyOpen  = "Already opened"
	defaultUserName = "there"
)

func (d *Dispatcher) helpText() string {
	if d.feed != nil {
		return msgHelpHeader + msgHelpFind
	}
	return msgHelpHeader
}

// --- Новые участники ---

func (d *Dispatcher) handleNewMembers(msg *tgbotapi.Message) {
	for _, u := range msg.NewChatMembers {
		if u.IsBot {
			continue
		}
		text := fmt.Sprintf(msgWelcome, html.EscapeString(displayName(&u))) + d.helpText()
		d.tg.SendText(msg.Chat.ID, text, telegram.SendOptions{})
	}
}

// --- Модерация ---

func (d *Dispatcher) handleDenied(msg *tgbotapi.Message, pattern string) {
	chatID := msg.Chat.ID
	d.log.Info("message rejected by denylist",
		zap.Int64("chat_id", chatID),
		zap.Int("message_id", msg.MessageID),
		zap.String("pattern", pattern),
	)

	warnID := d.tg.SendText(chatID, fmt.Sprintf(msgWarning, mention(msg.From)), telegram.SendOptions{})
	d.tg.Delete(chatID, msg.MessageID)

	if warnID != 0 {
		d.sched.After(d.opts.WarningDeleteAfter, "delete-warning", func(context.Context) {
			d.tg.Delete(chatID, warnID)
		})
	}
}

// --- Поиск ---

func (d *Dispatcher) handleSearch(ctx context.Context, msg *tgbotapi.Message, category token.Category, query string) {
	chatID := msg.Chat.ID
	reply := telegram.SendOptions{ReplyTo: msg.MessageID}

	if query == "" {
		d.tg.SendText(chatID, msgPrompt, reply)
		return
	}
	if !d.throttle.Allow(chatID) {
		d.log.Info("search throttled", zap.Int64("chat_id", chatID))
		d.tg.SendText(chatID, msgThrottled, reply)
		return
	}

	res, err := d.search.Search(ctx, category, query)
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		d.tg.SendText(chatID, msgPrompt, reply)
		return
	case errors.Is(err, search.ErrNoResults):
		text := fmt.Sprintf(msgNoResults, html.EscapeString(displayName(msg.From)), html.EscapeString(query))
		d.tg.SendText(chatID, text, reply)
		return
	case err != nil:
		d.log.Warn("search failed", zap.Error(err), zap.Int64("chat_id", chatID), zap.String("query", query))
		d.tg.SendText(chatID, msgUnavailable, reply)
		return
	}

	kb := resultsKeyboard(res.Items)
	reply.Keyboard = &kb
	sentID := d.tg.SendText(chatID, res.Text(), reply)

	if sentID != 0 && d.opts.ResultsDeleteAfter > 0 {
		d.sched.After(d.opts.ResultsDeleteAfter, "delete-results", func(context.Context) {
			d.tg.Delete(chatID, sentID)
		})
	}
}

func resultsKeyboard(items []search.Item) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(items))
	for _, it := range items {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(it.Title, token.EncodeCallback(it.Token)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// --- Кнопки ---

func (d *Dispatcher) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Data == usedCallback {
		d.tg.AnswerCallback(cq.ID, msgAlreadyOpen)
		return
	}

	id, ok := token.DecodeCallback(cq.Data)
	if !ok || cq.Message == nil || cq.Message.Chat == nil {
		d.tg.AnswerCallback(cq.ID, "")
		return
	}
	chatID := cq.Message.Chat.ID

	res, err := d.detail.Resolve(ctx, id)
	d.tg.AnswerCallback(cq.ID, "")
	if err != nil {
		d.log.Info("callback not resolved", zap.Error(err), zap.Int64("chat_id", chatID), zap.String("token", id))
		switch {
		case errors.Is(err, detail.ErrExpired):
			d.tg.SendText(chatID, msgExpired, telegram.SendOptions{})
		case errors.Is(err, detail.ErrNotFound):
			d.tg.SendText(chatID, msgNoLink, telegram.SendOptions{})
		default:
			d.tg.SendText(chatID, msgFetchFailed, telegram.SendOptions{})
		}
		return
	}

	d.sendDetail(chatID, res)

	if res.Consumed && cq.Message.ReplyMarkup != nil {
		if kb, changed := markUsed(*cq.Message.ReplyMarkup, cq.Data); changed {
			d.tg.EditKeyboard(chatID, cq.Message.MessageID, kb)
		}
	}
}

// sendDetail отправляет карточку: альбом, фото или текст. Если фото не
// ушли, карточка повторяется текстом.
func (d *Dispatcher) sendDetail(chatID int64, res detail.Reply) {
	var err error
	switch len(res.Photos) {
	case 0:
		d.tg.SendText(chatID, res.Caption, telegram.SendOptions{})
		return
	case 1:
		err = d.tg.SendPhoto(chatID, res.Photos[0], res.Caption)
	default:
		err = d.tg.SendAlbum(chatID, res.Photos, res.Caption)
	}
	if err != nil {
		d.tg.SendText(chatID, res.Caption, telegram.SendOptions{})
	}
}

// markUsed переподписывает нажатую кнопку как открытую.
func markUsed(kb tgbotapi.InlineKeyboardMarkup, data string) (tgbotapi.InlineKeyboardMarkup, bool) {
	changed := false
	rows := make([][]tgbotapi.InlineKeyboardButton, len(kb.InlineKeyboard))
	for i, row := range kb.InlineKeyboard {
		rows[i] = make([]tgbotapi.InlineKeyboardButton, len(row))
		for j, btn := range row {
			if btn.CallbackData != nil && *btn.CallbackData == data {
				btn = tgbotapi.NewInlineKeyboardButtonData("✅ "+btn.Text, usedCallback)
				changed = true
			}
			rows[i][j] = btn
		}
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}, changed
}

// --- Лента блога ---

func (d *Dispatcher) handleFind(ctx context.Context, msg *tgbotapi.Message, query string) {
	chatID := msg.Chat.ID
	reply := telegram.SendOptions{ReplyTo: msg.MessageID}

	if query == "" {
		d.tg.SendText(chatID, msgFindUsage, reply)
		return
	}

	posts, err := d.feed.Search(ctx, query, findLimit)
	if err != nil {
		d.log.Warn("feed search failed", zap.Error(err), zap.String("query", query))
		d.tg.SendText(chatID, msgUnavailable, reply)
		return
	}
	if len(posts) == 0 {
		d.tg.SendText(chatID, fmt.Sprintf(msgFindNothing, html.EscapeString(query)), reply)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, msgFindHeader, html.EscapeString(query))
	for _, p := range posts {
		fmt.Fprintf(&b, "\n🎬 <a href=\"%s\">%s</a>", html.EscapeString(p.URL), html.EscapeString(p.Title))
	}
	d.tg.SendText(chatID, b.String(), reply)
}

// --- Разбор текста ---

var tags = []struct {
	prefix   string
	category token.Category
}{
	{"#movie", token.CategoryMovie},
	{"#tv", token.CategoryTV},
	{"#series", token.CategorySeries},
}

// parseTag распознаёт "#movie name". Тег без регистра, после него пробел
// или конец строки; "#movies" тегом не считается.
func parseTag(text string) (token.Category, string, bool) {
	text = strings.TrimSpace(text)
	for _, t := range tags {
		if len(text) < len(t.prefix) || !strings.EqualFold(text[:len(t.prefix)], t.prefix) {
			continue
		}
		rest := text[len(t.prefix):]
		if rest != "" && rest[0] != ' ' && rest[0] != '\t' && rest[0] != '\n' {
			continue
		}
		return t.category, strings.TrimSpace(rest), true
	}
	return "", "", false
}

// commandName имя команды без слэша и без суффикса @bot. Чужой суффикс
// даёт пустую строку.
func (d *Dispatcher) commandName(word string) string {
	if !strings.HasPrefix(word, "/") {
		return ""
	}
	name := word[1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if d.opts.Username != "" && !strings.EqualFold(name[at+1:], d.opts.Username) {
			return ""
		}
		name = name[:at]
	}
	return strings.ToLower(name)
}

// isCommand текст целиком равен одной из команд.
func (d *Dispatcher) isCommand(text string, names ...string) bool {
	text = strings.TrimSpace(text)
	if strings.ContainsAny(text, " \t\n") {
		return false
	}
	got := d.commandName(text)
	for _, n := range names {
		if got == n {
			return true
		}
	}
	return false
}

// commandArgs аргументы команды name, если текст с неё начинается.
func (d *Dispatcher) commandArgs(text, name string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || d.commandName(fields[0]) != name {
		return "", false
	}
	return strings.TrimSpace(strings.TrimSpace(text)[len(fields[0]):]), true
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return defaultUserName
	}
	if name := strings.TrimSpace(u.FirstName); name != "" {
		return name
	}
	if u.UserName != "" {
		return u.UserName
	}
	return defaultUserName
}

// mention HTML-упоминание отправителя.
func mention(u *tgbotapi.User) string {
	if u == nil {
		return html.EscapeString(defaultUserName)
	}
	return `<a href="tg://user?id=` + strconv.FormatInt(u.ID, 10) + `">` + html.EscapeString(displayName(u)) + `</a>`
}
