package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slime-worlds/internal/auth"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/slime"
	"github.com/annel0/slime-worlds/internal/world"
)

type adminFixture struct {
	router *gin.Engine
	store  *world.Store
	host   *world.MemoryHost
	loop   *world.ControlLoop
}

func newAdminFixture(t *testing.T, issuer *auth.TokenIssuer) *adminFixture {
	t.Helper()
	host := world.NewMemoryHost()
	store := world.NewStore(loader.NewFileLoaderWithFs(afero.NewMemMapFs()), world.Options{
		Host:   host,
		Logger: quietLogger(),
	})
	loop := world.NewControlLoop(4)
	loop.Start(context.Background())
	t.Cleanup(func() {
		loop.Stop()
		_ = store.Close()
	})

	router, err := NewAdminRouter(AdminConfig{
		Store:    store,
		Loop:     loop,
		Issuer:   issuer,
		Registry: prometheus.NewRegistry(),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	return &adminFixture{router: router, store: store, host: host, loop: loop}
}

func (f *adminFixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminLoadAndDelete(t *testing.T) {
	f := newAdminFixture(t, nil)

	rec := f.do(http.MethodPost, "/worlds/alpha", `{"difficulty":"normal","environment":"nether"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp WorldResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alpha", resp.Name)
	assert.Equal(t, slime.DifficultyNormal, resp.Properties.Difficulty)
	assert.Equal(t, slime.EnvironmentNether, resp.Properties.Environment)
	assert.True(t, f.host.IsActive("alpha"))

	rec = f.do(http.MethodGet, "/worlds", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list WorldsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{"alpha"}, list.Stored)
	assert.Equal(t, []string{"alpha"}, list.Loaded)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/worlds/alpha", "", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/worlds/alpha/save", "", "").Code)

	assert.Equal(t, http.StatusAccepted, f.do(http.MethodDelete, "/worlds/alpha", "", "").Code)
	f.store.Wait()
	assert.False(t, f.host.IsActive("alpha"))
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/worlds/alpha", "", "").Code)

	// удаление отсутствующего мира - тоже успех
	assert.Equal(t, http.StatusAccepted, f.do(http.MethodDelete, "/worlds/alpha", "", "").Code)
}

func TestAdminLoadRacingDeleteConflicts(t *testing.T) {
	f := newAdminFixture(t, nil)

	// держим управляющий цикл, чтобы Delete успел между GetOrCreate и Materialize
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	require.NoError(t, f.loop.Post(func(context.Context) error {
		<-release
		return nil
	}))

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- f.do(http.MethodPost, "/worlds/alpha", "", "") }()

	require.Eventually(t, func() bool {
		_, ok := f.store.Loaded("alpha")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, f.store.Delete(context.Background(), "alpha"))
	unblock()

	rec := <-done
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	f.store.Wait()
	assert.False(t, f.host.IsActive("alpha"))
}

func TestAdminBadRequests(t *testing.T) {
	f := newAdminFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/worlds/alpha", `{"gravity":"low"}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/worlds/alpha", `[1,2]`, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/worlds/bad%20name", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/worlds/bad%20name", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/worlds/ghost/save", "", "").Code)
	assert.Empty(t, f.store.LoadedWorlds())
}

func TestAdminHostRefusesDelete(t *testing.T) {
	f := newAdminFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/worlds/alpha", "", "").Code)
	f.host.SetVeto(func(string) bool { return false })

	assert.Equal(t, http.StatusConflict, f.do(http.MethodDelete, "/worlds/alpha", "", "").Code)
	assert.Equal(t, []string{"alpha"}, f.store.LoadedWorlds())
}

func TestAdminRequiresAdminToken(t *testing.T) {
	issuer := newIssuer(t)
	f := newAdminFixture(t, issuer)

	user, err := issuer.Issue("player", false)
	require.NoError(t, err)
	admin, err := issuer.Issue("ops", true)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/worlds", "", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/worlds", "", user).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/worlds", "", admin).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "", "").Code)
}
