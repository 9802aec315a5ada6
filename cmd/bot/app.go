package main

import (
	"context"
	"fmt"

	"moviebot/internal/bot"
	"moviebot/internal/clock"
	"moviebot/internal/config"
	"moviebot/internal/detail"
	"moviebot/internal/feed"
	"moviebot/internal/link"
	"moviebot/internal/mirror"
	"moviebot/internal/recordstore"
	"moviebot/internal/scheduler"
	"moviebot/internal/scrape"
	"moviebot/internal/search"
	"moviebot/internal/server"
	"moviebot/internal/storage"
	"moviebot/internal/telegram"
	"moviebot/internal/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// app собранный бот со всеми зависимостями.
type app struct {
	tg         *telegram.Client
	tokens     token.Store
	mongo      *recordstore.MongoStore
	sched      *scheduler.Scheduler
	dispatcher *bot.Dispatcher
	server     *server.Server
}

func newTelegram(cfg *config.Config, log *zap.Logger) (*telegram.Client, error) {
	tg, err := telegram.New(cfg.BotToken, cfg.TelegramEndpoint, cfg.TelegramTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return tg, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	a := &app{}

	tg, err := newTelegram(cfg, log)
	if err != nil {
		return nil, err
	}
	a.tg = tg

	var records recordstore.Store
	switch cfg.RecordStore {
	case config.RecordStoreMongo:
		m, err := recordstore.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MirrorTable)
		if err != nil {
			return nil, fmt.Errorf("mongo record store: %w", err)
		}
		a.mongo = m
		records = m
	default:
		records = recordstore.NewXataStore(cfg.XataBaseURL, cfg.XataAPIKey, cfg.MirrorTable, cfg.HTTPTimeout)
	}
	log.Info("record store ready", zap.String("backend", cfg.RecordStore))

	switch cfg.TokenStore {
	case config.TokenStorePostgres, config.TokenStoreSQLite:
		st, err := storage.Open(cfg.TokenStore, cfg.DatabaseDSN, clock.Real{}, log)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("token store: %w", err), a.closeMongo())
		}
		a.tokens = st
	default:
		a.tokens = token.NewMemoryStore(clock.Real{})
	}
	log.Info("token store ready", zap.String("backend", cfg.TokenStore))

	resolver := mirror.New(records, mirror.Options{
		RecordID:  cfg.MirrorRecordID,
		Timeout:   cfg.HTTPTimeout,
		UserAgent: cfg.UserAgent,
		CacheTTL:  cfg.MirrorCacheTTL,
	}, log.Named("mirror"))
	scraper := scrape.NewHTMLScraper(cfg.HTTPTimeout, cfg.UserAgent)

	var (
		wrapper feed.LinkWrapper = feed.NoopWrapper{}
		posts   *feed.Client
	)
	if cfg.BlogURL != "" {
		posts = feed.NewClient(feed.Options{
			BlogURL:   cfg.BlogURL,
			Timeout:   cfg.HTTPTimeout,
			UserAgent: cfg.UserAgent,
			CacheTTL:  cfg.FeedCacheTTL,
		}, log.Named("feed"))
		if cfg.DecoyActive() {
			wrapper = feed.NewDecoyWrapper(posts, log.Named("decoy"))
		}
	}

	a.sched = scheduler.New(clock.Real{}, log.Named("scheduler"))

	deps := bot.Deps{
		Messenger: tg,
		Search: search.NewExecutor(resolver, scraper, a.tokens, search.Options{
			TokenTTL:   cfg.TokenTTL,
			MaxResults: cfg.MaxResults,
		}, log.Named("search")),
		Detail:    detail.NewResolver(a.tokens, scraper, wrapper, detail.Options{SingleUse: cfg.TokenSingleUse}, log.Named("detail")),
		Scheduler: a.sched,
		Clock:     clock.Real{},
	}
	var finder server.Finder
	if posts != nil {
		deps.Feed = posts
		finder = posts
	}

	a.dispatcher = bot.New(deps, bot.Options{
		Username:           tg.Username(),
		Denylist:           link.NewDenylist(cfg.Denylist),
		WarningDeleteAfter: cfg.WarningDeleteAfter,
		ResultsDeleteAfter: cfg.ResultsDeleteAfter,
		SearchRatePerSec:   cfg.SearchRatePerSec,
		SearchBurst:        cfg.SearchBurst,
	}, log.Named("bot"))

	a.server = server.New(a.dispatcher, finder, server.Options{
		Addr:        cfg.HTTPAddr,
		WebhookPath: cfg.WebhookPath,
	}, log.Named("http"))

	log.Info("bot assembled",
		zap.Bool("decoy", cfg.DecoyActive()),
		zap.Bool("single_use_tokens", cfg.TokenSingleUse),
		zap.Duration("token_ttl", cfg.TokenTTL),
	)
	return a, nil
}

// close останавливает HTTP, выполняет отложенные удаления и закрывает
// хранилища. Ошибки собираются в одну.
func (a *app) close(log *zap.Logger) error {
	ctx, cancel := shutdownContext()
	defer cancel()

	var err error
	if a.server != nil {
		err = multierr.Append(err, a.server.Shutdown(ctx))
	}
	if a.sched != nil {
		err = multierr.Append(err, a.sched.Shutdown(ctx))
	}
	if a.tokens != nil {
		err = multierr.Append(err, a.tokens.Close())
	}
	err = multierr.Append(err, a.closeMongo())

	if err != nil {
		log.Error("shutdown finished with errors", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func (a *app) closeMongo() error {
	if a.mongo == nil {
		return nil
	}
	ctx, cancel := shutdownContext()
	defer cancel()
	return a.mongo.Close(ctx)
}
