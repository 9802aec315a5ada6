package feed

import (
	"context"
	"encoding/base64"
	"math/rand"
	"net/url"

	"go.uber.org/zap"
)

// DecoyParam имя параметра с закодированной ссылкой.
const DecoyParam = "url"

// LinkWrapper постобработка итоговой ссылки на скачивание.
type LinkWrapper interface {
	WrapLink(ctx context.Context, link string) string
}

// NoopWrapper оставляет ссылку как есть.
type NoopWrapper struct{}

func (NoopWrapper) WrapLink(_ context.Context, link string) string { return link }

// PostSource источник постов-приманок.
type PostSource interface {
	Posts(ctx context.Context) ([]Post, error)
}

// DecoyWrapper прячет ссылку в параметр случайного поста блога:
// https://blog.example/2024/01/post.html?url=<base64>.
type DecoyWrapper struct {
	src  PostSource
	pick func(n int) int
	log  *zap.Logger
}

func NewDecoyWrapper(src PostSource, log *zap.Logger) *DecoyWrapper {
	return &DecoyWrapper{src: src, pick: rand.Intn, log: log}
}

// WrapLink при недоступной ленте возвращает исходную ссылку.
func (w *DecoyWrapper) WrapLink(ctx context.Context, link string) string {
	if link == "" {
		return link
	}
	posts, err := w.src.Posts(ctx)
	if err != nil || len(posts) == 0 {
		w.log.Warn("decoy feed unavailable, using raw link", zap.Error(err))
		return link
	}

	post := posts[w.pick(len(posts))]
	u, err := url.Parse(post.URL)
	if err != nil || u.Host == "" {
		return link
	}
	q := u.Query()
	q.Set(DecoyParam, base64.StdEncoding.EncodeToString([]byte(link)))
	u.RawQuery = q.Encode()
	return u.String()
}

// Unwrap достаёт исходную ссылку из обёрнутой.
func Unwrap(wrapped string) (string, bool) {
	u, err := url.Parse(wrapped)
	if err != nil {
		return "", false
	}
	enc := u.Query().Get(DecoyParam)
	if enc == "" {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", false
	}
	return string(raw), true
}
