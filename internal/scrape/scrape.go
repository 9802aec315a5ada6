// Package scrape извлекает результаты поиска и поля страницы релиза
// с сайта-зеркала. Разметка сайта нам не подконтрольна, поэтому разбор
// best-effort: отсутствующие поля получают NA, а не ошибку.
package scrape

import (
	"context"
	"errors"
)

// NA значение поля, которое не удалось найти на странице.
const NA = "N/A"

var (
	ErrBadStatus = errors.New("unexpected upstream status")
	ErrBadURL    = errors.New("invalid page url")
)

// Result одна строка выдачи поиска.
type Result struct {
	Title string
	URL   string
}

// Detail поля страницы релиза. Пустые Poster, Screenshot, DownloadLink
// означают, что элемент не найден. Size, Language, Genre всегда заполнены.
type Detail struct {
	Title        string
	Poster       string
	Screenshot   string
	Size         string
	Language     string
	Genre        string
	DownloadLink string
}

// Scraper внешний источник данных для поиска и карточек.
type Scraper interface {
	Search(ctx context.Context, baseURL, query string, limit int) ([]Result, error)
	FetchDetail(ctx context.Context, pageURL string) (Detail, error)
}
