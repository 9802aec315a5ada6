package detail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"moviebot/internal/feed"
	"moviebot/internal/metrics"
	"moviebot/internal/scrape"
	"moviebot/internal/token"

	"go.uber.org/zap"
)

var (
	// ErrExpired токен неизвестен, истёк или уже использован.
	ErrExpired = errors.New("token expired")
	// ErrFetchFailed страницу релиза получить не удалось.
	ErrFetchFailed = errors.New("detail page fetch failed")
	// ErrNotFound на странице нет ссылки на скачивание.
	ErrNotFound = errors.New("download link not found")
)

const maxTitleRunes = 200

// Reply карточка релиза.
type Reply struct {
	Title    string
	Caption  string
	Photos   []string // постер, затем скриншот
	Link     string
	Category token.Category
	// Consumed токен погашен (режим одноразовых кнопок).
	Consumed bool
}

type Options struct {
	SingleUse bool
}

// Resolver превращает токен кнопки в карточку релиза.
type Resolver struct {
	store     token.Store
	scraper   scrape.Scraper
	wrapper   feed.LinkWrapper
	singleUse bool
	log       *zap.Logger
}

func NewResolver(store token.Store, scraper scrape.Scraper, wrapper feed.LinkWrapper, opts Options, log *zap.Logger) *Resolver {
	if wrapper == nil {
		wrapper = feed.NoopWrapper{}
	}
	return &Resolver{
		store:     store,
		scraper:   scraper,
		wrapper:   wrapper,
		singleUse: opts.SingleUse,
		log:       log,
	}
}

func (r *Resolver) SingleUse() bool { return r.singleUse }

func (r *Resolver) Resolve(ctx context.Context, id string) (reply Reply, err error) {
	defer func() { metrics.Resolves.WithLabelValues(outcome(err)).Inc() }()

	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return Reply{}, ErrExpired
		}
		return Reply{}, fmt.Errorf("%w: token store: %w", ErrFetchFailed, err)
	}

	d, err := r.scraper.FetchDetail(ctx, rec.URL)
	if err != nil {
		r.log.Warn("detail fetch failed", zap.Error(err), zap.String("url", rec.URL))
		return Reply{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if d.DownloadLink == "" {
		r.log.Info("no download link on detail page", zap.String("url", rec.URL))
		return Reply{}, ErrNotFound
	}

	if r.singleUse {
		// токен гасится только после успешного разбора страницы
		if _, err := r.store.Take(ctx, id); err != nil {
			return Reply{}, ErrExpired
		}
	}

	title := d.Title
	if title == "" {
		title = rec.Title
	}
	title = truncate(title, maxTitleRunes)

	finalLink := r.wrapper.WrapLink(ctx, d.DownloadLink)

	reply = Reply{
		Title:    title,
		Caption:  Caption(title, d, finalLink),
		Link:     finalLink,
		Category: rec.Category,
		Consumed: r.singleUse,
	}
	for _, p := range []string{d.Poster, d.Screenshot} {
		if p != "" {
			reply.Photos = append(reply.Photos, p)
		}
	}
	return reply, nil
}

// Caption подпись карточки в HTML-разметке Telegram.
func Caption(title string, d scrape.Detail, link string) string {
	var b strings.Builder
	b.WriteString("🎬 <b>" + html.EscapeString(title) + "</b>\n\n")
	b.WriteString("📦 <b>Size:</b> " + html.EscapeString(orNA(d.Size)) + "\n")
	b.WriteString("🗣 <b>Language:</b> " + html.EscapeString(orNA(d.Language)) + "\n")
	b.WriteString("🎭 <b>Genre:</b> " + html.EscapeString(orNA(d.Genre)) + "\n\n")
	b.WriteString(`🔗 <a href="` + html.EscapeString(link) + `">Download</a>`)
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return scrape.NA
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "fetch_failed"
	}
}
