package storage

import (
	"time"

	"moviebot/internal/token"
)

// SearchToken таблица токенов кнопок с результатами поиска.
type SearchToken struct {
	ID        string    `gorm:"primaryKey;size:32"`
	Title     string    `gorm:"size:256;not null"`
	URL       string    `gorm:"size:2048;not null"`
	Category  string    `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"` // после этого момента токен недействителен
}

// TableName имя таблицы в БД.
func (SearchToken) TableName() string {
	return "search_tokens"
}

func fromRecord(rec token.Record) SearchToken {
	return SearchToken{
		ID:        rec.ID,
		Title:     rec.Title,
		URL:       rec.URL,
		Category:  string(rec.Category),
		CreatedAt: rec.CreatedAt.UTC(),
		ExpiresAt: rec.ExpiresAt.UTC(),
	}
}

func (m SearchToken) record() token.Record {
	return token.Record{
		ID:        m.ID,
		Title:     m.Title,
		URL:       m.URL,
		Category:  token.Category(m.Category),
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}
