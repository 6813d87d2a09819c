package loader

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slime-worlds/internal/slime"
)

func TestInstrumentedCountsOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	l := Instrument(NewFileLoaderWithFs(afero.NewMemMapFs()), "file", metrics)
	ctx := context.Background()

	data, err := slime.Serialize(slime.NewWorld("alpha", slime.DefaultProperties()))
	require.NoError(t, err)

	require.NoError(t, l.Write(ctx, "alpha", data))
	got, err := l.Read(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// отсутствие мира - не ошибка хранилища
	_, err = l.Read(ctx, "missing")
	assert.ErrorIs(t, err, ErrWorldNotFound)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.errors.WithLabelValues("file", "read")))

	err = l.Write(ctx, "../escape", data)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.errors.WithLabelValues("file", "write")))

	// write и read
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.duration))
	require.NoError(t, l.Close())
}

func TestInstrumentedWithoutMetrics(t *testing.T) {
	l := Instrument(NewFileLoaderWithFs(afero.NewMemMapFs()), "file", nil)

	ok, err := l.Exists(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}
