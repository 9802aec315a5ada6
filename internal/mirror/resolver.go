package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"moviebot/internal/clock"
	"moviebot/internal/link"
	"moviebot/internal/metrics"
	"moviebot/internal/recordstore"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable адрес зеркала получить не удалось.
var ErrUnavailable = errors.New("mirror base url unavailable")

// failOpenTTL сколько держим сохранённый адрес, если проверка редиректа не прошла.
const failOpenTTL = 30 * time.Second

type Options struct {
	RecordID  string
	Timeout   time.Duration
	UserAgent string
	CacheTTL  time.Duration
	Clock     clock.Clock
	// Client переопределяет HTTP-клиент для проверки редиректа.
	Client *http.Client
}

// Resolver определяет текущий домен зеркала: читает сохранённый адрес,
// проходит по редиректам и записывает новый адрес обратно, если он сменился.
type Resolver struct {
	store     recordstore.Store
	recordID  string
	hc        *http.Client
	timeout   time.Duration
	userAgent string
	ttl       time.Duration
	clock     clock.Clock
	log       *zap.Logger

	group singleflight.Group

	mu      sync.Mutex
	cached  string
	expires time.Time
}

func New(store recordstore.Store, opts Options, log *zap.Logger) *Resolver {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Resolver{
		store:     store,
		recordID:  opts.RecordID,
		hc:        hc,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		ttl:       opts.CacheTTL,
		clock:     opts.Clock,
		log:       log,
	}
}

// BaseURL возвращает адрес зеркала без завершающего слеша. Одновременные
// вызовы делят один поход в хранилище, но каждый ждёт не дольше своего ctx.
func (r *Resolver) BaseURL(ctx context.Context) (string, error) {
	if u, ok := r.fromCache(); ok {
		return u, nil
	}
	ch := r.group.DoChan("base", func() (any, error) {
		if u, ok := r.fromCache(); ok {
			return u, nil
		}
		// общий поиск не зависит от отмены первого вызывающего
		return r.resolve(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate сбрасывает кэш, следующий вызов снова пойдёт в хранилище.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = ""
	r.expires = time.Time{}
	r.mu.Unlock()
}

func (r *Resolver) fromCache() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == "" || !r.clock.Now().Before(r.expires) {
		return "", false
	}
	return r.cached, true
}

func (r *Resolver) resolve(ctx context.Context) (string, error) {
	getCtx, cancel := context.WithTimeout(ctx, r.timeout)
	rec, err := r.store.Get(getCtx, r.recordID)
	cancel()
	if err != nil {
		metrics.MirrorResolutions.WithLabelValues("lookup_failed").Inc()
		r.log.Warn("mirror record lookup failed", zap.Error(err), zap.String("record_id", r.recordID))
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	stored, err := link.Normalize(rec.URL)
	if err != nil {
		metrics.MirrorResolutions.WithLabelValues("bad_record").Inc()
		r.log.Warn("mirror record holds invalid url", zap.String("url", rec.URL))
		return "", fmt.Errorf("%w: stored url %q: %w", ErrUnavailable, rec.URL, err)
	}

	live, reached := r.follow(ctx, stored)
	if !link.Same(live, stored) {
		// запись назад best-effort: ошибка влияет только на следующий холодный старт
		if err := r.store.UpdateURL(ctx, r.recordID, live); err != nil {
			r.log.Warn("mirror write-back failed", zap.Error(err), zap.String("url", live))
		} else {
			r.log.Info("mirror domain updated", zap.String("from", stored), zap.String("to", live))
		}
		metrics.MirrorResolutions.WithLabelValues("changed").Inc()
	} else {
		metrics.MirrorResolutions.WithLabelValues("unchanged").Inc()
	}

	ttl := r.ttl
	if !reached && ttl > failOpenTTL {
		ttl = failOpenTTL
	}
	r.mu.Lock()
	r.cached = live
	r.expires = r.clock.Now().Add(ttl)
	r.mu.Unlock()
	return live, nil
}

// follow проходит по редиректам. При ошибке сети возвращает stored и false.
func (r *Resolver) follow(ctx context.Context, stored string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stored, nil)
	if err != nil {
		return stored, false
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		r.log.Warn("mirror redirect check failed, using stored url", zap.Error(err), zap.String("url", stored))
		return stored, false
	}
	defer resp.Body.Close()

	final := *resp.Request.URL
	final.RawQuery = ""
	final.Fragment = ""
	live, err := link.Normalize(final.String())
	if err != nil {
		return stored, false
	}
	return live, true
}
