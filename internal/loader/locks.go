package loader

import (
	"context"
	"sync"
)

// KeyedMutex выдаёт отдельный мьютекс на каждое имя мира.
// Запись освобождается, когда последний держатель отпускает блокировку.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock блокирует имя и возвращает функцию разблокировки.
func (k *KeyedMutex) Lock(name string) func() {
	k.mu.Lock()
	e, ok := k.locks[name]
	if !ok {
		e = &keyedEntry{}
		k.locks[name] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, name)
		}
		k.mu.Unlock()
	}
}

// Len - число имён, по которым сейчас есть держатели или ожидающие.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Locked сериализует операции над одним и тем же миром.
// Операции над разными мирами идут параллельно.
type Locked struct {
	Loader
	keys *KeyedMutex
}

// NewLocked оборачивает драйвер; при keys == nil создаётся свой набор.
// Блокировки не реентерабельны: нельзя держать имя в keys и звать через Locked.
func NewLocked(l Loader, keys *KeyedMutex) *Locked {
	if keys == nil {
		keys = NewKeyedMutex()
	}
	return &Locked{Loader: l, keys: keys}
}

func (l *Locked) Read(ctx context.Context, name string) ([]byte, error) {
	defer l.keys.Lock(name)()
	return l.Loader.Read(ctx, name)
}

func (l *Locked) Write(ctx context.Context, name string, data []byte) error {
	defer l.keys.Lock(name)()
	return l.Loader.Write(ctx, name, data)
}

func (l *Locked) Delete(ctx context.Context, name string) error {
	defer l.keys.Lock(name)()
	return l.Loader.Delete(ctx, name)
}
