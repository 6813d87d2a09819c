package world

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slime-worlds/internal/config"
	"github.com/annel0/slime-worlds/internal/events"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/slime"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)
	second, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, f.loader.writes.Load())
	assert.Equal(t, []events.Type{events.WorldCreated}, f.events.Types("alpha"))
}

func TestGetOrCreateConcurrentCallersShareHandle(t *testing.T) {
	f := newFixture(t)

	const callers = 16
	results := make([]*slime.World, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := f.store.GetOrCreate(context.Background(), "beta", slime.DefaultProperties())
			assert.NoError(t, err)
			results[i] = w
		}(i)
	}
	wg.Wait()

	for _, w := range results {
		assert.Same(t, results[0], w)
	}
	assert.EqualValues(t, 1, f.loader.writes.Load())
}

func TestGetOrCreateLoadsExistingWorld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored := slime.NewWorld("gamma", slime.DefaultProperties())
	stored.Properties.Difficulty = slime.DifficultyHard
	stored.Chunks = []byte{1, 2, 3}
	data, err := slime.Serialize(stored)
	require.NoError(t, err)
	require.NoError(t, f.loader.Loader.Write(ctx, "gamma", data))

	w, err := f.store.GetOrCreate(ctx, "gamma", slime.DefaultProperties())
	require.NoError(t, err)

	assert.Equal(t, slime.DifficultyHard, w.Properties.Difficulty, "stored properties win over defaults")
	assert.Equal(t, []byte{1, 2, 3}, w.Chunks)
	assert.Zero(t, f.loader.writes.Load())
	assert.Equal(t, []events.Type{events.WorldLoaded}, f.events.Types("gamma"))
}

func TestGetOrCreateFatalOnBadFormat(t *testing.T) {
	valid, err := slime.Serialize(slime.NewWorld("broken", slime.DefaultProperties()))
	require.NoError(t, err)

	corrupted := append([]byte(nil), valid...)
	corrupted[len(corrupted)-1] ^= 0xFF

	newer := append([]byte(nil), valid...)
	newer[2] = slime.CurrentVersion + 1

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"checksum", corrupted, slime.ErrCorruptedWorld},
		{"not a world", []byte("plain text that is long enough"), slime.ErrCorruptedWorld},
		{"newer format", newer, slime.ErrNewerFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			require.NoError(t, f.loader.Loader.Write(ctx, "broken", tt.data))

			w, err := f.store.GetOrCreate(ctx, "broken", slime.DefaultProperties())
			assert.Nil(t, w)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, "broken", loadErr.Name)

			assert.Contains(t, f.logs.String(), "[ERROR] [world] 💥 FATAL")

			// мир не пересоздан поверх испорченных байтов
			_, loaded := f.store.Loaded("broken")
			assert.False(t, loaded)
			assert.Zero(t, f.loader.writes.Load())
			onDisk, err := f.loader.Read(ctx, "broken")
			if err == nil {
				assert.Equal(t, tt.data, onDisk)
			}
		})
	}
}

func TestGetOrCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.GetOrCreate(ctx, "../etc", slime.DefaultProperties())
	assert.ErrorIs(t, err, loader.ErrInvalidName)

	props := slime.DefaultProperties()
	props.Difficulty = "insane"
	_, err = f.store.GetOrCreate(ctx, "alpha", props)
	assert.Error(t, err)

	assert.Zero(t, f.loader.writes.Load())
	assert.Empty(t, f.store.LoadedWorlds())
}

func TestSavePersistsChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)

	w.Chunks = []byte("terrain")
	w.Extra["owner"] = "steve"
	require.NoError(t, f.store.Save(ctx, w))

	data, err := f.loader.Read(ctx, "alpha")
	require.NoError(t, err)
	got, err := slime.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, w, got)

	stranger := slime.NewWorld("alpha", slime.DefaultProperties())
	err = f.store.Save(ctx, stranger)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestMaterializeRequiresControlLoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)

	err = f.store.Materialize(ctx, w)
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.ErrorIs(t, err, ErrWrongThread)
	assert.False(t, f.host.IsActive("alpha"))

	err = f.loop.Do(ctx, func(ctx context.Context) error {
		return f.store.Materialize(ctx, w)
	})
	require.NoError(t, err)
	assert.True(t, f.host.IsActive("alpha"))
	assert.Contains(t, f.events.Types("alpha"), events.WorldActivated)
}

func TestMaterializeUnknownWorld(t *testing.T) {
	f := newFixture(t)

	err := f.loop.Do(context.Background(), func(ctx context.Context) error {
		return f.store.Materialize(ctx, slime.NewWorld("ghost", slime.DefaultProperties()))
	})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestDeleteMissingWorldIsNoop(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.store.Delete(context.Background(), "ghost"))
	f.store.Wait()

	assert.EqualValues(t, 1, f.loader.deletes.Load())
	assert.Empty(t, f.events.Types("ghost"))
	assert.NotContains(t, f.logs.String(), "[ERROR]")
}

func TestDeleteVetoedByHost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)
	require.NoError(t, f.loop.Do(ctx, func(ctx context.Context) error {
		return f.store.Materialize(ctx, w)
	}))
	f.host.SetVeto(func(string) bool { return false })

	assert.False(t, f.store.Delete(ctx, "alpha"))
	f.store.Wait()

	assert.Zero(t, f.loader.deletes.Load())
	_, loaded := f.store.Loaded("alpha")
	assert.True(t, loaded)
	assert.True(t, f.host.IsActive("alpha"))
}

func TestDeleteRemovesActiveWorld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)
	require.NoError(t, f.loop.Do(ctx, func(ctx context.Context) error {
		return f.store.Materialize(ctx, w)
	}))

	cancelled, cancel := context.WithCancel(ctx)
	require.True(t, f.store.Delete(cancelled, "alpha"))
	// отмена контекста вызывающего не прерывает фоновое удаление
	cancel()

	assert.True(t, f.events.WaitFor("alpha", events.WorldDeleted, waitTimeout))
	f.store.Wait()

	assert.False(t, f.host.IsActive("alpha"))
	assert.Empty(t, f.store.LoadedWorlds())
	exists, err := f.store.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetOrCreateAfterDeleteSeesDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)
	require.True(t, f.store.Delete(ctx, "alpha"))

	second, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)
	f.store.Wait()

	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, f.loader.writes.Load())
	exists, err := f.store.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, exists, "recreated world must survive the earlier delete")
}

func TestRepeatedDeleteDoesNotWaitForStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)

	gate := make(chan struct{})
	f.loader.deleteGate = gate
	released := false
	release := func() {
		if !released {
			released = true
			close(gate)
		}
	}
	defer release()

	require.True(t, f.store.Delete(ctx, "alpha"))

	second := make(chan bool, 1)
	go func() { second <- f.store.Delete(ctx, "alpha") }()
	select {
	case ok := <-second:
		assert.True(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("второй Delete ждёт фонового удаления")
	}

	// GetOrCreate ждёт удаления байтов, а не возвращает старый мир
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = f.store.GetOrCreate(short, "alpha", slime.DefaultProperties())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	f.store.Wait()

	assert.EqualValues(t, 2, f.loader.deletes.Load())
	assert.Contains(t, f.events.Types("alpha"), events.WorldDeleted)
	assert.NotContains(t, f.events.Types("alpha"), events.WorldDeleteFailed)
	exists, err := f.store.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMaterializeDuringDeleteIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store, host := newHookedStore(t, f)

	w, err := store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)

	var materializeErr error
	host.beforeDeactivate = func(string) {
		materializeErr = f.loop.Do(ctx, func(ctx context.Context) error {
			return store.Materialize(ctx, w)
		})
	}

	require.True(t, store.Delete(ctx, "alpha"))
	store.Wait()

	var pe *PreconditionError
	require.ErrorAs(t, materializeErr, &pe)
	assert.ErrorIs(t, materializeErr, ErrNotLoaded)
	assert.False(t, host.IsActive("alpha"))
	_, loaded := store.Loaded("alpha")
	assert.False(t, loaded)
	exists, err := store.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteDuringActivateLeavesWorldInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store, host := newHookedStore(t, f)

	w, err := store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)

	deleted := false
	host.beforeActivate = func(name string) {
		deleted = store.Delete(ctx, name)
	}

	err = f.loop.Do(ctx, func(ctx context.Context) error {
		return store.Materialize(ctx, w)
	})
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.True(t, deleted)

	store.Wait()
	assert.False(t, host.IsActive("alpha"))
	assert.Empty(t, store.LoadedWorlds())
}

func TestDeleteFailureIsLoggedOnly(t *testing.T) {
	f := newFixture(t)
	f.loader.deleteErr = &loader.IOError{Op: "delete", Name: "alpha", Err: errors.New("disk on fire")}
	ctx := context.Background()

	_, err := f.store.GetOrCreate(ctx, "alpha", slime.DefaultProperties())
	require.NoError(t, err)

	assert.True(t, f.store.Delete(ctx, "alpha"))
	f.store.Wait()

	assert.Contains(t, f.logs.String(), "disk on fire")
	assert.Contains(t, f.events.Types("alpha"), events.WorldDeleteFailed)
	assert.Empty(t, f.store.LoadedWorlds())
}

func TestDeleteInvalidName(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.store.Delete(context.Background(), ""))
	assert.Zero(t, f.loader.deletes.Load())
}

// Файловое хранилище в пустом каталоге: создание, повторный вызов из кэша, удаление.
func TestFileBackendScenario(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	l, err := loader.Select(ctx, config.StorageConfig{
		Type: config.BackendFile,
		File: config.FileConfig{Path: root},
	})
	require.NoError(t, err)
	f := newFixtureWith(t, l)

	defaults, err := slime.ParseProperties(slime.DefaultProperties(), map[string]string{
		"difficulty":  "normal",
		"environment": "nether",
	})
	require.NoError(t, err)

	w, err := f.store.GetOrCreate(ctx, "alpha", defaults)
	require.NoError(t, err)
	assert.Equal(t, "alpha", w.Name)
	assert.Equal(t, slime.DifficultyNormal, w.Properties.Difficulty)
	assert.Equal(t, slime.EnvironmentNether, w.Properties.Environment)

	path := filepath.Join(root, "alpha.slime")
	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.loader.writes.Load())

	again, err := f.store.GetOrCreate(ctx, "alpha", defaults)
	require.NoError(t, err)
	assert.Same(t, w, again)
	assert.EqualValues(t, 1, f.loader.writes.Load())

	assert.True(t, f.store.Delete(ctx, "alpha"))
	f.store.Wait()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, loaded := f.store.Loaded("alpha")
	assert.False(t, loaded)
	assert.Empty(t, f.store.LoadedWorlds())
}
