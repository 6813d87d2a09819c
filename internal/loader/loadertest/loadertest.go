// Package loadertest - общий набор проверок для драйверов loader.Loader.
package loadertest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/slime"
)

// Factory возвращает пустой драйвер. Закрытие - забота фабрики (t.Cleanup).
type Factory func(t *testing.T) loader.Loader

// WorldBytes возвращает корректно сериализованный мир с заданным заполнителем чанков.
func WorldBytes(t *testing.T, name string, fill byte, size int) []byte {
	t.Helper()
	w := slime.NewWorld(name, slime.DefaultProperties())
	w.Chunks = bytes.Repeat([]byte{fill}, size)
	data, err := slime.Serialize(w)
	require.NoError(t, err)
	return data
}

// Run прогоняет все проверки контракта Loader.
func Run(t *testing.T, newLoader Factory) {
	t.Run("WriteRead", func(t *testing.T) { testWriteRead(t, newLoader(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newLoader(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newLoader(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newLoader(t)) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, newLoader(t)) })
	t.Run("InvalidName", func(t *testing.T) { testInvalidName(t, newLoader(t)) })
	t.Run("ConcurrentWrites", func(t *testing.T) { testConcurrentWrites(t, newLoader(t)) })
}

func testWriteRead(t *testing.T, l loader.Loader) {
	ctx := context.Background()
	data := WorldBytes(t, "alpha", 0x01, 128)

	ok, err := l.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Write(ctx, "alpha", data))

	ok, err = l.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := l.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func testOverwrite(t *testing.T, l loader.Loader) {
	ctx := context.Background()
	first := WorldBytes(t, "beta", 0x01, 64)
	second := WorldBytes(t, "beta", 0x02, 4096)

	require.NoError(t, l.Write(ctx, "beta", first))
	require.NoError(t, l.Write(ctx, "beta", second))

	got, err := l.Read(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	names, err := l.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, names)
}

func testList(t *testing.T, l loader.Loader) {
	ctx := context.Background()

	names, err := l.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	want := []string{"island_1", "island_1_nether", "lobby"}
	for i, name := range want {
		require.NoError(t, l.Write(ctx, name, WorldBytes(t, name, byte(i), 16)))
	}

	names, err = l.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, names)
}

func testDelete(t *testing.T, l loader.Loader) {
	ctx := context.Background()
	require.NoError(t, l.Write(ctx, "gamma", WorldBytes(t, "gamma", 0x03, 16)))

	require.NoError(t, l.Delete(ctx, "gamma"))

	ok, err := l.Exists(ctx, "gamma")
	require.NoError(t, err)
	assert.False(t, ok)

	err = l.Delete(ctx, "gamma")
	assert.ErrorIs(t, err, loader.ErrWorldNotFound)
}

func testMissing(t *testing.T, l loader.Loader) {
	ctx := context.Background()

	_, err := l.Read(ctx, "nope")
	assert.ErrorIs(t, err, loader.ErrWorldNotFound)

	err = l.Delete(ctx, "nope")
	assert.ErrorIs(t, err, loader.ErrWorldNotFound)
}

func testInvalidName(t *testing.T, l loader.Loader) {
	ctx := context.Background()

	for _, name := range []string{"", "..", "a/b", "with space"} {
		_, err := l.Exists(ctx, name)
		assert.ErrorIs(t, err, loader.ErrInvalidName, "exists %q", name)
		assert.ErrorIs(t, l.Write(ctx, name, []byte{1}), loader.ErrInvalidName, "write %q", name)
	}
}

// Параллельные записи одного имени не должны перемешивать байты:
// после них читается ровно одно из записанных значений.
func testConcurrentWrites(t *testing.T, l loader.Loader) {
	ctx := context.Background()
	a := WorldBytes(t, "delta", 0xAA, 32*1024)
	b := WorldBytes(t, "delta", 0xBB, 48*1024)

	const rounds = 8
	for round := 0; round < rounds; round++ {
		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, data := range [][]byte{a, b} {
			wg.Add(1)
			go func(data []byte) {
				defer wg.Done()
				errs <- l.Write(ctx, "delta", data)
			}(data)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := l.Read(ctx, "delta")
		require.NoError(t, err)
		if !bytes.Equal(got, a) && !bytes.Equal(got, b) {
			t.Fatalf("round %d: read %d bytes matching neither write", round, len(got))
		}
		_, err = slime.Deserialize(got)
		require.NoError(t, err, fmt.Sprintf("round %d", round))
	}
}
