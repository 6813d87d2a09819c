package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slime-worlds/internal/config"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/loader/loadertest"
)

type memHot struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemHot() *memHot { return &memHot{data: map[string][]byte{}} }

func (m *memHot) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[name]
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (m *memHot) Set(_ context.Context, name string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[name] = data
	return nil
}

func (m *memHot) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, name)
	return nil
}

func (m *memHot) Close() error { return nil }

func (m *memHot) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[name]
	return ok
}

// bus - общий канал инвалидаций для нескольких узлов в одном процессе
type bus struct {
	mu       sync.Mutex
	handlers map[string]func(string)
}

type busNode struct {
	bus *bus
	id  string
}

func (b *bus) node(id string) *busNode {
	if b.handlers == nil {
		b.handlers = map[string]func(string){}
	}
	return &busNode{bus: b, id: id}
}

func (n *busNode) Publish(_ context.Context, name string) error {
	n.bus.mu.Lock()
	var targets []func(string)
	for id, h := range n.bus.handlers {
		if id != n.id {
			targets = append(targets, h)
		}
	}
	n.bus.mu.Unlock()
	for _, h := range targets {
		h(name)
	}
	return nil
}

func (n *busNode) Subscribe(handler func(string)) error {
	n.bus.mu.Lock()
	defer n.bus.mu.Unlock()
	n.bus.handlers[n.id] = handler
	return nil
}

func (n *busNode) Close() error { return nil }

type countingReads struct {
	loader.Loader
	reads atomic.Int32
}

func (c *countingReads) Read(ctx context.Context, name string) ([]byte, error) {
	c.reads.Add(1)
	return c.Loader.Read(ctx, name)
}

func TestCachedConformance(t *testing.T) {
	loadertest.Run(t, func(t *testing.T) loader.Loader {
		c, err := Wrap(loader.NewFileLoaderWithFs(afero.NewMemMapFs()), newMemHot(), nil, time.Minute)
		require.NoError(t, err)
		return c
	})
}

func TestCachedReadThrough(t *testing.T) {
	ctx := context.Background()
	backend := &countingReads{Loader: loader.NewFileLoaderWithFs(afero.NewMemMapFs())}
	hot := newMemHot()
	c, err := Wrap(backend, hot, nil, time.Minute)
	require.NoError(t, err)

	data := loadertest.WorldBytes(t, "alpha", 0x01, 32)
	require.NoError(t, c.Write(ctx, "alpha", data))
	assert.False(t, hot.has("alpha"))

	for i := 0; i < 3; i++ {
		got, err := c.Read(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
	assert.EqualValues(t, 1, backend.reads.Load())
	assert.Equal(t, Stats{Hits: 2, Misses: 1}, c.Stats())

	updated := loadertest.WorldBytes(t, "alpha", 0x02, 32)
	require.NoError(t, c.Write(ctx, "alpha", updated))
	got, err := c.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	require.NoError(t, c.Delete(ctx, "alpha"))
	assert.False(t, hot.has("alpha"))
	_, err = c.Read(ctx, "alpha")
	assert.ErrorIs(t, err, loader.ErrWorldNotFound)
}

func TestCachedFallsBackWhenHotFails(t *testing.T) {
	ctx := context.Background()
	hot := newMemHot()
	c, err := Wrap(loader.NewFileLoaderWithFs(afero.NewMemMapFs()), hot, nil, time.Minute)
	require.NoError(t, err)

	data := loadertest.WorldBytes(t, "alpha", 0x01, 8)
	require.NoError(t, c.Write(ctx, "alpha", data))

	hot.err = errors.New("connection refused")
	got, err := c.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCachedCrossNodeInvalidation(t *testing.T) {
	ctx := context.Background()
	shared := loader.NewFileLoaderWithFs(afero.NewMemMapFs())
	b := &bus{}

	hotA, hotB := newMemHot(), newMemHot()
	nodeA, err := Wrap(shared, hotA, b.node("a"), time.Minute)
	require.NoError(t, err)
	nodeB, err := Wrap(shared, hotB, b.node("b"), time.Minute)
	require.NoError(t, err)

	v1 := loadertest.WorldBytes(t, "alpha", 0x01, 8)
	require.NoError(t, nodeA.Write(ctx, "alpha", v1))
	_, err = nodeB.Read(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, hotB.has("alpha"))

	v2 := loadertest.WorldBytes(t, "alpha", 0x02, 8)
	require.NoError(t, nodeA.Write(ctx, "alpha", v2))
	assert.False(t, hotB.has("alpha"))

	got, err := nodeB.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, v2, got)
	assert.EqualValues(t, 2, nodeB.Stats().Invalidations)
}

func TestFromConfigUnreachableRedis(t *testing.T) {
	_, err := FromConfig(context.Background(), loader.NewFileLoaderWithFs(afero.NewMemMapFs()), config.CacheConfig{
		RedisAddr: "127.0.0.1:1",
		TTL:       time.Minute,
	})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoTTL)
}

func TestCacheRequiresTTL(t *testing.T) {
	_, err := Wrap(loader.NewFileLoaderWithFs(afero.NewMemMapFs()), newMemHot(), nil, 0)
	assert.ErrorIs(t, err, ErrNoTTL)

	_, err = FromConfig(context.Background(), loader.NewFileLoaderWithFs(afero.NewMemMapFs()), config.CacheConfig{
		RedisAddr: "127.0.0.1:1",
	})
	assert.ErrorIs(t, err, ErrNoTTL)
}

// pausedReads останавливает первый Read после чтения драйвера, до возврата байтов
type pausedReads struct {
	loader.Loader
	paused  atomic.Bool
	reached chan struct{}
	resume  chan struct{}
}

func newPausedReads(next loader.Loader) *pausedReads {
	return &pausedReads{Loader: next, reached: make(chan struct{}), resume: make(chan struct{})}
}

func (p *pausedReads) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := p.Loader.Read(ctx, name)
	if p.paused.CompareAndSwap(false, true) {
		close(p.reached)
		<-p.resume
	}
	return data, err
}

func TestCachedReadDoesNotCacheBytesInvalidatedMidRead(t *testing.T) {
	tests := []struct {
		name   string
		remote bool
	}{
		{"same node", false},
		{"other node", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			shared := loader.NewFileLoaderWithFs(afero.NewMemMapFs())
			b := &bus{}

			old := loadertest.WorldBytes(t, "alpha", 0x01, 8)
			require.NoError(t, shared.Write(ctx, "alpha", old))

			paused := newPausedReads(shared)
			hot := newMemHot()
			reader, err := Wrap(paused, hot, b.node("reader"), time.Minute)
			require.NoError(t, err)
			writer := reader
			if tt.remote {
				writer, err = Wrap(shared, newMemHot(), b.node("writer"), time.Minute)
				require.NoError(t, err)
			}

			got := make(chan []byte, 1)
			go func() {
				data, _ := reader.Read(ctx, "alpha")
				got <- data
			}()
			<-paused.reached

			fresh := loadertest.WorldBytes(t, "alpha", 0x02, 8)
			require.NoError(t, writer.Write(ctx, "alpha", fresh))
			close(paused.resume)

			assert.Equal(t, old, <-got)
			assert.False(t, hot.has("alpha"), "bytes read before the write must not stay cached")

			data, err := reader.Read(ctx, "alpha")
			require.NoError(t, err)
			assert.Equal(t, fresh, data)
		})
	}
}
