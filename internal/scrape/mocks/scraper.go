package mocks

import (
	"context"

	"moviebot/internal/scrape"

	"github.com/stretchr/testify/mock"
)

// Scraper мок scrape.Scraper.
type Scraper struct {
	mock.Mock
}

func (m *Scraper) Search(ctx context.Context, baseURL, query string, limit int) ([]scrape.Result, error) {
	args := m.Called(ctx, baseURL, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]scrape.Result), args.Error(1)
}

func (m *Scraper) FetchDetail(ctx context.Context, pageURL string) (scrape.Detail, error) {
	args := m.Called(ctx, pageURL)
	return args.Get(0).(scrape.Detail), args.Error(1)
}
