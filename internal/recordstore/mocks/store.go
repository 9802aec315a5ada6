package mocks

import (
	"context"

	"moviebot/internal/recordstore"

	"github.com/stretchr/testify/mock"
)

// Store мок recordstore.Store.
type Store struct {
	mock.Mock
}

func (m *Store) Get(ctx context.Context, id string) (recordstore.Record, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(recordstore.Record), args.Error(1)
}

func (m *Store) UpdateURL(ctx context.Context, id, url string) error {
	args := m.Called(ctx, id, url)
	return args.Error(0)
}
