package loader

import (
	"context"
	"errors"

	"github.com/annel0/slime-worlds/internal/config"
	"github.com/annel0/slime-worlds/internal/logging"
)

// ConfigValidationError - в конфигурации хранилища нет обязательного поля
type ConfigValidationError = config.ValidationError

// Select строит драйвер по тегу StorageConfig. Вызывается один раз при старте.
//
// Сетевые варианты (sql, mongo, redis) подключаются сразу и возвращают *ConnectionError,
// если сервер недоступен. Повторных попыток нет.
func Select(ctx context.Context, cfg config.StorageConfig) (Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.GetLoaderLogger()

	var (
		l   Loader
		err error
	)
	switch cfg.Type {
	case config.BackendFile:
		l, err = NewFileLoader(cfg.File.Path)
	case config.BackendMongo:
		l, err = NewMongoLoader(ctx, cfg.Mongo)
	case config.BackendSQL:
		l, err = NewSQLLoader(ctx, cfg.SQL)
	case config.BackendAPI:
		l, err = NewAPILoader(cfg.API)
	case config.BackendRedis:
		l, err = NewRedisLoader(ctx, cfg.Redis)
	case config.BackendBadger:
		l, err = NewBadgerLoader(cfg.Badger)
	default:
		return nil, &UnsupportedBackendError{Type: string(cfg.Type)}
	}
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			log.Error("❌ Хранилище %s недоступно: %v", cfg.Type, connErr.Err)
		}
		return nil, err
	}

	log.Info("💾 Хранилище миров: %s", cfg.Type)
	return l, nil
}
