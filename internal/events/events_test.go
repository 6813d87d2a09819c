package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	ev := New(WorldCreated, "alpha")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"created"`)
	assert.NotContains(t, string(data), `"error"`)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = r.Publish(ctx, New(WorldDeleted, "alpha"))
	}()
	require.NoError(t, r.Publish(ctx, New(WorldCreated, "alpha")))
	require.NoError(t, r.Publish(ctx, New(WorldCreated, "beta")))

	assert.True(t, r.WaitFor("alpha", WorldDeleted, time.Second))
	assert.Equal(t, []Type{WorldCreated, WorldDeleted}, r.Types("alpha"))
	assert.Len(t, r.Events(), 3)
	assert.False(t, r.WaitFor("beta", WorldDeleted, 10*time.Millisecond))
}

type failing struct{ Nop }

func (failing) Publish(context.Context, *Event) error { return errors.New("broker down") }

func TestCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	ok := WithMetrics(NewRecorder(), reg)
	require.NoError(t, ok.Publish(context.Background(), New(WorldLoaded, "alpha")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ok.published.WithLabelValues("loaded")))

	bad := WithMetrics(failing{}, prometheus.NewRegistry())
	assert.Error(t, bad.Publish(context.Background(), New(WorldLoaded, "alpha")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bad.failed.WithLabelValues("loaded")))
}

func TestNATSPublisherUnreachable(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "worlds", "test")
	assert.Error(t, err)
}
