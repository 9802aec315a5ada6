package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moviebot/internal/clock"
	"moviebot/internal/token"

	"github.com/glebarez/sqlite"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Storage хранит токены в PostgreSQL или SQLite через GORM и переживает
// перезапуск процесса.
type Storage struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

var _ token.Store = (*Storage)(nil)

// Open подключается к БД, выполняет AutoMigrate и возвращает Storage.
// driver: "postgres" или "sqlite".
func Open(driver, dsn string, c clock.Clock, log *zap.Logger) (*Storage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Настраиваем пул соединений
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// одно соединение: in-memory база живёт, пока живо соединение
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		db.Exec("PRAGMA busy_timeout=5000;")
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.AutoMigrate(&SearchToken{}); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrate: %w", err), sqlDB.Close())
	}

	if c == nil {
		c = clock.Real{}
	}
	log.Info("token storage initialized", zap.String("driver", driver))
	return &Storage{db: db, log: log, clock: c}, nil
}

// Close закрывает соединение с БД.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Storage) now() time.Time {
	return s.clock.Now().UTC()
}

// Put вставляет токен или перезаписывает существующий с тем же id.
func (s *Storage) Put(ctx context.Context, rec token.Record, ttl time.Duration) error {
	now := s.now()
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(ttl)
	m := fromRecord(rec)

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "url", "category", "created_at", "expires_at"}),
		}).
		Create(&m).Error
}

func (s *Storage) Get(ctx context.Context, id string) (token.Record, error) {
	var m SearchToken
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return token.Record{}, token.ErrNotFound
		}
		return token.Record{}, err
	}

	if !s.now().Before(m.ExpiresAt) {
		if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&SearchToken{}).Error; err != nil {
			s.log.Warn("failed to delete expired token", zap.Error(err), zap.String("token", id))
		}
		return token.Record{}, token.ErrNotFound
	}
	return m.record(), nil
}

// Take читает и удаляет токен в одной транзакции. Если строку параллельно
// забрал другой запрос, возвращает ErrNotFound.
func (s *Storage) Take(ctx context.Context, id string) (token.Record, error) {
	var (
		rec   token.Record
		found bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m SearchToken
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		res := tx.Where("id = ?", id).Delete(&SearchToken{})
		if res.Error != nil {
			return res.Error
		}
		// истёкшая строка удаляется так же, но наружу не отдаётся
		if res.RowsAffected == 1 && s.now().Before(m.ExpiresAt) {
			rec, found = m.record(), true
		}
		return nil
	})
	if err != nil {
		return token.Record{}, err
	}
	if !found {
		return token.Record{}, token.ErrNotFound
	}
	return rec, nil
}

func (s *Storage) SweepExpired(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&SearchToken{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
