package world

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/logging"
	"github.com/annel0/slime-worlds/internal/slime"
)

// Migrate переносит мир из одного хранилища в другое. Байты проверяются
// перед записью; исходная копия удаляется только после успешной записи.
// Если в целевом хранилище мир уже есть, возвращается ErrAlreadyExists.
func Migrate(ctx context.Context, name string, from, to loader.Loader) error {
	if err := loader.ValidateName(name); err != nil {
		return err
	}

	exists, err := to.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}

	data, err := from.Read(ctx, name)
	if err != nil {
		return err
	}
	if _, err := slime.Deserialize(data); err != nil {
		return &LoadError{Name: name, Err: err}
	}

	if err := to.Write(ctx, name, data); err != nil {
		return err
	}
	if err := from.Delete(ctx, name); err != nil && !errors.Is(err, loader.ErrWorldNotFound) {
		logging.GetWorldLogger().Warn("⚠️ Мир %s скопирован, но исходная копия не удалена: %v", name, err)
		return err
	}

	logging.GetWorldLogger().Info("🚚 Мир %s перенесён (%d байт)", name, len(data))
	return nil
}
