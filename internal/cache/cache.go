// Package cache - горячий кеш байтов миров перед медленным хранилищем (Mongo, SQL, удалённый API).
//
// Использование:
//
//	hot, _ := cache.NewRedisHot(ctx, cfg)
//	inv, _ := cache.NewNATSInvalidator(cfg.NATSURL, cfg.Subject, cfg.NodeID)
//	l, _ := cache.Wrap(backend, hot, inv, cfg.TTL)
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/slime-worlds/internal/config"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/logging"
)

// ErrMiss ключа нет в горячем кеше
var ErrMiss = errors.New("cache: miss")

// Hot - быстрый уровень кеша
type Hot interface {
	// Get возвращает ErrMiss, если ключа нет
	Get(ctx context.Context, name string) ([]byte, error)
	// Set с ttl == 0 хранит ключ без истечения
	Set(ctx context.Context, name string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Invalidator рассылает имена изменённых миров другим узлам
type Invalidator interface {
	Publish(ctx context.Context, name string) error
	// Subscribe вызывает handler на имена, изменённые другими узлами
	Subscribe(handler func(name string)) error
	Close() error
}

// Stats - счётчики кеша
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}

// Cached - loader.Loader с read-through кешем.
// Read берёт байты из Hot, при промахе читает драйвер и кладёт результат в Hot.
// Write и Delete сначала меняют драйвер, затем сбрасывают ключ и рассылают инвалидацию.
//
// Каждая инвалидация увеличивает поколение имени. Read не оставляет в Hot байты,
// прочитанные до инвалидации, пришедшей во время чтения.
type Cached struct {
	loader.Loader
	hot Hot
	inv Invalidator
	ttl time.Duration
	log *logging.Logger

	mu   sync.Mutex
	gens map[string]uint64

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// ErrNoTTL - кеш без срока жизни ключей не настраивается
var ErrNoTTL = errors.New("cache: ttl must be positive")

// Wrap оборачивает драйвер. inv может быть nil. ttl ограничивает устаревание
// при потерянной инвалидации и должен быть положительным.
func Wrap(next loader.Loader, hot Hot, inv Invalidator, ttl time.Duration) (*Cached, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrNoTTL, ttl)
	}
	c := &Cached{
		Loader: next,
		hot:    hot,
		inv:    inv,
		ttl:    ttl,
		log:    logging.GetComponentLogger("cache"),
		gens:   make(map[string]uint64),
	}
	if inv != nil {
		if err := inv.Subscribe(c.evict); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cached) generation(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[name]
}

func (c *Cached) bump(name string) {
	c.mu.Lock()
	c.gens[name]++
	c.mu.Unlock()
}

func (c *Cached) evict(name string) {
	c.invalidations.Add(1)
	c.bump(name)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.hot.Delete(ctx, name); err != nil {
		c.log.Warn("⚠️ Инвалидация %s: %v", name, err)
	}
}

func (c *Cached) Exists(ctx context.Context, name string) (bool, error) {
	if err := loader.ValidateName(name); err != nil {
		return false, err
	}
	if _, err := c.hot.Get(ctx, name); err == nil {
		return true, nil
	}
	return c.Loader.Exists(ctx, name)
}

func (c *Cached) Read(ctx context.Context, name string) ([]byte, error) {
	if err := loader.ValidateName(name); err != nil {
		return nil, err
	}

	data, err := c.hot.Get(ctx, name)
	if err == nil {
		c.hits.Add(1)
		return data, nil
	}
	c.misses.Add(1)
	if !errors.Is(err, ErrMiss) {
		// кеш недоступен - читаем напрямую
		c.log.Warn("⚠️ Кеш: чтение %s: %v", name, err)
	}

	gen := c.generation(name)
	data, err = c.Loader.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, name, data, gen)
	return data, nil
}

// fill кладёт прочитанные байты в Hot, если с начала чтения не было инвалидаций.
// Инвалидация между проверкой и Set снимается повторной проверкой после Set.
func (c *Cached) fill(ctx context.Context, name string, data []byte, gen uint64) {
	if c.generation(name) != gen {
		return
	}
	if err := c.hot.Set(ctx, name, data, c.ttl); err != nil {
		c.log.Warn("⚠️ Кеш: запись %s: %v", name, err)
		return
	}
	if c.generation(name) != gen {
		if err := c.hot.Delete(ctx, name); err != nil {
			c.log.Warn("⚠️ Кеш: сброс %s: %v", name, err)
		}
	}
}

func (c *Cached) Write(ctx context.Context, name string, data []byte) error {
	if err := c.Loader.Write(ctx, name, data); err != nil {
		return err
	}
	c.invalidate(ctx, name)
	return nil
}

func (c *Cached) Delete(ctx context.Context, name string) error {
	err := c.Loader.Delete(ctx, name)
	if err != nil && !errors.Is(err, loader.ErrWorldNotFound) {
		return err
	}
	c.invalidate(ctx, name)
	return err
}

func (c *Cached) invalidate(ctx context.Context, name string) {
	c.bump(name)
	if err := c.hot.Delete(ctx, name); err != nil {
		c.log.Warn("⚠️ Кеш: сброс %s: %v", name, err)
	}
	if c.inv == nil {
		return
	}
	if err := c.inv.Publish(ctx, name); err != nil {
		c.log.Warn("⚠️ Кеш: инвалидация %s не разослана: %v", name, err)
	}
}

// Stats возвращает снимок счётчиков
func (c *Cached) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// Close закрывает подписку, кеш и драйвер
func (c *Cached) Close() error {
	var errs []error
	if c.inv != nil {
		errs = append(errs, c.inv.Close())
	}
	errs = append(errs, c.hot.Close(), c.Loader.Close())
	return errors.Join(errs...)
}

// FromConfig подключает Redis и, если задан NATS, межузловую инвалидацию
func FromConfig(ctx context.Context, next loader.Loader, cfg config.CacheConfig) (*Cached, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrNoTTL, cfg.TTL)
	}
	hot, err := NewRedisHot(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var inv Invalidator
	if cfg.NATSURL != "" {
		n, err := NewNATSInvalidator(cfg.NATSURL, cfg.Subject, cfg.NodeID)
		if err != nil {
			_ = hot.Close()
			return nil, err
		}
		inv = n
	}

	c, err := Wrap(next, hot, inv, cfg.TTL)
	if err != nil {
		_ = hot.Close()
		if inv != nil {
			_ = inv.Close()
		}
		return nil, err
	}
	return c, nil
}
