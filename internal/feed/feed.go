package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"moviebot/internal/clock"

	"go.uber.org/zap"
)

var (
	ErrNoPosts    = errors.New("feed has no posts")
	ErrBadStatus  = errors.New("unexpected feed status")
	ErrNotEnabled = errors.New("feed not configured")
)

const (
	feedPath     = "/feeds/posts/default"
	maxFeedPosts = 50
	maxFeedBytes = 4 << 20
)

// Post запись ленты блога.
type Post struct {
	Title string `json:"title"`
	URL   string `json:"link"`
}

// bloggerFeed ответ Blogger API с alt=json.
type bloggerFeed struct {
	Feed struct {
		Entry []struct {
			Title struct {
				Text string `json:"$t"`
			} `json:"title"`
			Link []struct {
				Rel  string `json:"rel"`
				Type string `json:"type"`
				Href string `json:"href"`
			} `json:"link"`
		} `json:"entry"`
	} `json:"feed"`
}

type Options struct {
	BlogURL   string
	Timeout   time.Duration
	UserAgent string
	CacheTTL  time.Duration
	Clock     clock.Clock
}

// Client читает ленту блога и кэширует список постов на CacheTTL.
type Client struct {
	blogURL   string
	hc        *http.Client
	timeout   time.Duration
	userAgent string
	ttl       time.Duration
	clock     clock.Clock
	log       *zap.Logger

	mu        sync.Mutex
	posts     []Post
	fetchedAt time.Time
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		blogURL:   strings.TrimRight(opts.BlogURL, "/"),
		hc:        &http.Client{Timeout: opts.Timeout},
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		ttl:       opts.CacheTTL,
		clock:     opts.Clock,
		log:       log,
	}
}

// Posts последние посты ленты. Повторный запрос в ленту не чаще раза в TTL.
// Если обновить кэш не удалось, отдаются прежние посты.
func (c *Client) Posts(ctx context.Context) ([]Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if len(c.posts) > 0 && now.Sub(c.fetchedAt) < c.ttl {
		return c.posts, nil
	}

	posts, err := c.fetch(ctx, url.Values{"max-results": {strconv.Itoa(maxFeedPosts)}})
	if err == nil && len(posts) == 0 {
		err = ErrNoPosts
	}
	if err != nil {
		if len(c.posts) > 0 {
			c.log.Warn("feed refresh failed, serving stale posts", zap.Error(err))
			return c.posts, nil
		}
		return nil, err
	}

	c.posts = posts
	c.fetchedAt = now
	c.log.Debug("feed cache refreshed", zap.Int("posts", len(posts)))
	return posts, nil
}

// Search ищет посты в ленте по запросу, не больше limit.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Post, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	posts, err := c.fetch(ctx, url.Values{"q": {query}, "max-results": {strconv.Itoa(limit)}})
	if err != nil {
		return nil, err
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (c *Client) fetch(ctx context.Context, params url.Values) ([]Post, error) {
	if c.blogURL == "" {
		return nil, ErrNotEnabled
	}
	params.Set("alt", "json")
	endpoint := c.blogURL + feedPath + "?" + params.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	var f bloggerFeed
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	posts := make([]Post, 0, len(f.Feed.Entry))
	for _, e := range f.Feed.Entry {
		for _, l := range e.Link {
			if l.Rel == "alternate" && l.Href != "" {
				posts = append(posts, Post{Title: strings.TrimSpace(e.Title.Text), URL: l.Href})
				break
			}
		}
	}
	return posts, nil
}
