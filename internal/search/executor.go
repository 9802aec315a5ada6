package search

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"moviebot/internal/metrics"
	"moviebot/internal/scrape"
	"moviebot/internal/token"

	"go.uber.org/zap"
)

var (
	ErrEmptyQuery  = errors.New("empty search query")
	ErrUnavailable = errors.New("search backend unavailable")
	ErrNoResults   = errors.New("no results")
)

// MaxResults верхняя граница числа кнопок в ответе.
const MaxResults = 10

// BaseURLResolver источник текущего адреса зеркала.
type BaseURLResolver interface {
	BaseURL(ctx context.Context) (string, error)
}

// Item одна кнопка выдачи.
type Item struct {
	Token string
	Title string
}

// Results выдача поиска, готовая к отправке.
type Results struct {
	Category token.Category
	Query    string
	Items    []Item
}

// Text заголовок сообщения с выдачей (HTML).
func (r Results) Text() string {
	return "🔍 " + r.Category.Label() + " results for " + html.EscapeString(r.Query)
}

type Options struct {
	TokenTTL   time.Duration
	MaxResults int
}

// Executor ищет на зеркале и выдаёт по токену на каждый результат.
type Executor struct {
	mirror  BaseURLResolver
	scraper scrape.Scraper
	store   token.Store
	ttl     time.Duration
	max     int
	log     *zap.Logger
}

func NewExecutor(mirror BaseURLResolver, scraper scrape.Scraper, store token.Store, opts Options, log *zap.Logger) *Executor {
	if opts.MaxResults <= 0 || opts.MaxResults > MaxResults {
		opts.MaxResults = MaxResults
	}
	return &Executor{
		mirror:  mirror,
		scraper: scraper,
		store:   store,
		ttl:     opts.TokenTTL,
		max:     opts.MaxResults,
		log:     log,
	}
}

func (e *Executor) Search(ctx context.Context, category token.Category, query string) (res Results, err error) {
	defer func() { metrics.Searches.WithLabelValues(outcome(err)).Inc() }()

	query = strings.TrimSpace(query)
	if query == "" {
		return Results{}, ErrEmptyQuery
	}

	base, err := e.mirror.BaseURL(ctx)
	if err != nil {
		return Results{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	found, err := e.scraper.Search(ctx, base, query, e.max)
	if err != nil {
		e.log.Warn("search scrape failed", zap.Error(err), zap.String("query", query))
		return Results{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(found) == 0 {
		return Results{}, ErrNoResults
	}
	if len(found) > e.max {
		found = found[:e.max]
	}

	res = Results{Category: category, Query: query}
	seen := make(map[string]struct{}, len(found))
	var storeErr error
	for _, r := range found {
		id := token.NewID(r.Title, r.URL)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		rec := token.Record{ID: id, Title: r.Title, URL: r.URL, Category: category}
		if err := e.store.Put(ctx, rec, e.ttl); err != nil {
			storeErr = err
			e.log.Error("failed to store search token", zap.Error(err), zap.String("token", id))
			continue
		}
		res.Items = append(res.Items, Item{Token: id, Title: token.Title(r.Title)})
	}

	if len(res.Items) == 0 {
		return Results{}, fmt.Errorf("%w: %w", ErrUnavailable, storeErr)
	}

	e.log.Info("search completed",
		zap.String("category", string(category)),
		zap.String("query", query),
		zap.Int("results", len(res.Items)),
	)
	return res, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, ErrNoResults):
		return "no_results"
	default:
		return "unavailable"
	}
}
