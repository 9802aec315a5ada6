package bot

import (
	"context"
	"time"

	"moviebot/internal/clock"
	"moviebot/internal/detail"
	"moviebot/internal/feed"
	"moviebot/internal/link"
	"moviebot/internal/metrics"
	"moviebot/internal/scheduler"
	"moviebot/internal/search"
	"moviebot/internal/telegram"
	"moviebot/internal/token"

	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Messenger исходящие вызовы Bot API. Реализуется telegram.Client.
type Messenger interface {
	SendText(chatID int64, text string, opts telegram.SendOptions) int
	SendPhoto(chatID int64, photoURL, caption string) error
	SendAlbum(chatID int64, photoURLs []string, caption string) error
	Delete(chatID int64, messageID int)
	AnswerCallback(callbackID, text string)
	EditKeyboard(chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup)
}

// Searcher поиск по зеркалу.
type Searcher interface {
	Search(ctx context.Context, category token.Category, query string) (search.Results, error)
}

// Resolver разбор кнопки результата.
type Resolver interface {
	Resolve(ctx context.Context, id string) (detail.Reply, error)
	SingleUse() bool
}

// PostSearcher поиск по ленте блога для /find.
type PostSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]feed.Post, error)
}

// Deps зависимости диспетчера. Feed может быть nil: тогда /find молчит.
type Deps struct {
	Messenger Messenger
	Search    Searcher
	Detail    Resolver
	Feed      PostSearcher
	Scheduler *scheduler.Scheduler
	Clock     clock.Clock
}

type Options struct {
	// Username имя бота без @, для команд вида /help@name.
	Username           string
	Denylist           link.Denylist
	WarningDeleteAfter time.Duration
	// ResultsDeleteAfter 0 оставляет выдачу в чате.
	ResultsDeleteAfter time.Duration
	SearchRatePerSec   float64
	SearchBurst        int
}

// Dispatcher маршрутизирует апдейты Telegram.
type Dispatcher struct {
	tg       Messenger
	search   Searcher
	detail   Resolver
	feed     PostSearcher
	sched    *scheduler.Scheduler
	throttle *throttle
	opts     Options
	log      *zap.Logger
}

func New(deps Deps, opts Options, log *zap.Logger) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = scheduler.New(deps.Clock, log)
	}
	return &Dispatcher{
		tg:       deps.Messenger,
		search:   deps.Search,
		detail:   deps.Detail,
		feed:     deps.Feed,
		sched:    deps.Scheduler,
		throttle: newThrottle(opts.SearchRatePerSec, opts.SearchBurst, deps.Clock),
		opts:     opts,
		log:      log,
	}
}

// Handle обрабатывает один апдейт. Первый подходящий маршрут выигрывает,
// паника в обработчике не выходит наружу.
func (d *Dispatcher) Handle(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Updates.WithLabelValues("panic").Inc()
			d.log.Error("panic in handler", zap.Any("recover", r), zap.Int("update_id", upd.UpdateID))
		}
	}()

	if upd.CallbackQuery != nil {
		metrics.Updates.WithLabelValues("callback").Inc()
		d.handleCallback(ctx, upd.CallbackQuery)
		return
	}

	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		metrics.Updates.WithLabelValues("ignored").Inc()
		return
	}

	if len(msg.NewChatMembers) > 0 {
		metrics.Updates.WithLabelValues("new_members").Inc()
		d.handleNewMembers(msg)
		return
	}

	text := messageText(msg)
	if text == "" {
		metrics.Updates.WithLabelValues("ignored").Inc()
		return
	}

	if pattern, ok := d.opts.Denylist.Match(text); ok {
		metrics.Updates.WithLabelValues("moderation").Inc()
		d.handleDenied(msg, pattern)
		return
	}

	if d.isCommand(text, "help", "start") {
		metrics.Updates.WithLabelValues("help").Inc()
		d.tg.SendText(msg.Chat.ID, d.helpText(), telegram.SendOptions{})
		return
	}

	if category, query, ok := parseTag(text); ok {
		metrics.Updates.WithLabelValues("search").Inc()
		d.handleSearch(ctx, msg, category, query)
		return
	}

	if query, ok := d.commandArgs(text, "find"); ok && d.feed != nil {
		metrics.Updates.WithLabelValues("find").Inc()
		d.handleFind(ctx, msg, query)
		return
	}

	metrics.Updates.WithLabelValues("ignored").Inc()
}

// Poll long polling для локального запуска без вебхука. Блокирует до отмены ctx.
func Poll(ctx context.Context, api *tgbotapi.BotAPI, d *Dispatcher, log *zap.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)

	log.Info("bot started, waiting for updates...")
	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			log.Info("shutting down gracefully")
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			d.Handle(ctx, upd)
		}
	}
}

func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}
