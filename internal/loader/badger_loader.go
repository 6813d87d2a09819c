package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/slime-worlds/internal/config"
)

const badgerKeyPrefix = "world:"

// BadgerLoader keeps worlds in an embedded BadgerDB under world:<name>.
type BadgerLoader struct {
	db *badger.DB
}

// NewBadgerLoader opens the database at cfg.Path, or an in-memory one.
func NewBadgerLoader(cfg config.BadgerConfig) (*BadgerLoader, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, ioErr("open badger", "", fmt.Errorf("не удалось открыть BadgerDB: %w", err))
	}
	return &BadgerLoader{db: db}, nil
}

func badgerKey(name string) []byte {
	return []byte(badgerKeyPrefix + name)
}

func (b *BadgerLoader) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(name))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, ioErr("exists", name, err)
	}
	return true, nil
}

func (b *BadgerLoader) List(ctx context.Context) ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), badgerKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, ioErr("list", "", err)
	}
	return names, nil
}

func (b *BadgerLoader) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, ioErr("read", name, err)
	}
	return data, nil
}

func (b *BadgerLoader) Write(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(name), data)
	})
	if err != nil {
		return ioErr("write", name, err)
	}
	return nil
}

func (b *BadgerLoader) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(name)); err != nil {
			return err
		}
		return txn.Delete(badgerKey(name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound(name)
	}
	if err != nil {
		return ioErr("delete", name, err)
	}
	return nil
}

func (b *BadgerLoader) Close() error {
	return b.db.Close()
}
