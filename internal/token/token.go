package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound токена нет, либо он истёк или уже использован.
var ErrNotFound = errors.New("token not found or expired")

// Category раздел поиска.
type Category string

const (
	CategoryMovie  Category = "movie"
	CategoryTV     Category = "tv"
	CategorySeries Category = "series"
)

// Label подпись раздела для сообщений.
func (c Category) Label() string {
	switch c {
	case CategoryMovie:
		return "Movie"
	case CategoryTV:
		return "TV"
	case CategorySeries:
		return "Series"
	default:
		return "Search"
	}
}

// Record связывает id кнопки с адресом страницы результата.
type Record struct {
	ID        string
	Title     string
	URL       string
	Category  Category
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired истёк ли токен к моменту now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store хранилище токенов. Get и Take удаляют истёкшие записи и
// возвращают для них ErrNotFound.
type Store interface {
	Put(ctx context.Context, rec Record, ttl time.Duration) error
	Get(ctx context.Context, id string) (Record, error)
	// Take атомарно читает и удаляет запись (одноразовые токены).
	Take(ctx context.Context, id string) (Record, error)
	SweepExpired(ctx context.Context) (int, error)
	Close() error
}

const (
	idBytes        = 12
	callbackPrefix = "r:"

	// MaxCallbackData лимит Telegram на callback_data.
	MaxCallbackData = 64
	// MaxTitleRunes ширина подписи на кнопке.
	MaxTitleRunes = 50
)

// NewID детерминированный id по паре (title, link): 16 символов base64url.
// Одинаковые пары дают одинаковый id и указывают на одну и ту же страницу.
func NewID(title, link string) string {
	sum := sha256.Sum256([]byte(title + "\x00" + link))
	return base64.RawURLEncoding.EncodeToString(sum[:idBytes])
}

// EncodeCallback упаковывает id в callback_data кнопки.
func EncodeCallback(id string) string {
	return callbackPrefix + id
}

// DecodeCallback извлекает id из callback_data.
func DecodeCallback(data string) (string, bool) {
	if !strings.HasPrefix(data, callbackPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(data, callbackPrefix)
	if id == "" || len(data) > MaxCallbackData {
		return "", false
	}
	return id, true
}

// Title обрезает заголовок до ширины кнопки.
func Title(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= MaxTitleRunes {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:MaxTitleRunes-1])) + "…"
}
