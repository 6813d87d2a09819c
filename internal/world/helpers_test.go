package world

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"

	"github.com/annel0/slime-worlds/internal/events"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/logging"
	"github.com/annel0/slime-worlds/internal/slime"
)

// countingLoader считает записи и удаления и может подменить ошибку удаления.
// Если задан deleteGate, Delete ждёт его закрытия.
type countingLoader struct {
	loader.Loader
	writes     atomic.Int32
	deletes    atomic.Int32
	deleteErr  error
	deleteGate chan struct{}
}

func (c *countingLoader) Write(ctx context.Context, name string, data []byte) error {
	c.writes.Add(1)
	return c.Loader.Write(ctx, name, data)
}

func (c *countingLoader) Delete(ctx context.Context, name string) error {
	c.deletes.Add(1)
	if c.deleteGate != nil {
		<-c.deleteGate
	}
	if c.deleteErr != nil {
		return c.deleteErr
	}
	return c.Loader.Delete(ctx, name)
}

// syncBuffer - bytes.Buffer, в который можно писать из фоновых горутин
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	store  *Store
	loader *countingLoader
	host   *MemoryHost
	events *events.Recorder
	logs   *syncBuffer
	loop   *ControlLoop
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, loader.NewFileLoaderWithFs(afero.NewMemMapFs()))
}

func newFixtureWith(t *testing.T, l loader.Loader) *fixture {
	t.Helper()
	f := &fixture{
		loader: &countingLoader{Loader: l},
		host:   NewMemoryHost(),
		events: events.NewRecorder(),
		logs:   &syncBuffer{},
		loop:   NewControlLoop(8),
	}
	f.store = NewStore(f.loader, Options{
		Host:      f.host,
		Publisher: f.events,
		Logger:    logging.NewWriterLogger("world", f.logs, logging.DEBUG),
	})
	f.loop.Start(context.Background())
	t.Cleanup(func() {
		f.loop.Stop()
		_ = f.store.Close()
	})
	return f
}

// hookHost вызывает хуки до того, как MemoryHost обработает вызов
type hookHost struct {
	*MemoryHost
	beforeActivate   func(name string)
	beforeDeactivate func(name string)
}

func (h *hookHost) Activate(ctx context.Context, w *slime.World) error {
	if h.beforeActivate != nil {
		h.beforeActivate(w.Name)
	}
	return h.MemoryHost.Activate(ctx, w)
}

func (h *hookHost) Deactivate(name string) bool {
	if h.beforeDeactivate != nil {
		h.beforeDeactivate(name)
	}
	return h.MemoryHost.Deactivate(name)
}

// newHookedStore - второе хранилище поверх драйвера фикстуры с hookHost вместо MemoryHost
func newHookedStore(t *testing.T, f *fixture) (*Store, *hookHost) {
	t.Helper()
	host := &hookHost{MemoryHost: NewMemoryHost()}
	store := NewStore(f.loader, Options{
		Host:      host,
		Publisher: f.events,
		Logger:    logging.NewWriterLogger("world", f.logs, logging.DEBUG),
	})
	t.Cleanup(store.Wait)
	return store, host
}
