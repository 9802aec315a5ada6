package recordstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("mirror record not found")

// Record строка с текущим адресом зеркала.
type Record struct {
	ID  string `json:"id" bson:"_id"`
	URL string `json:"url" bson:"url"`
}

// Store внешнее хранилище записи зеркала.
type Store interface {
	Get(ctx context.Context, id string) (Record, error)
	UpdateURL(ctx context.Context, id, url string) error
}
