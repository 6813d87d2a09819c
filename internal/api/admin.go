package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/slime-worlds/internal/auth"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/logging"
	"github.com/annel0/slime-worlds/internal/slime"
	"github.com/annel0/slime-worlds/internal/world"
)

// AdminConfig - зависимости admin REST хоста миров
type AdminConfig struct {
	Store    *world.Store
	Loop     *world.ControlLoop
	Defaults slime.Properties  // свойства новых миров до применения тела запроса
	Issuer   *auth.TokenIssuer // nil - без авторизации (только для локального адреса)
	Registry *prometheus.Registry
	Logger   *logging.Logger
}

// WorldResponse - описание мира в ответах admin REST
type WorldResponse struct {
	Name       string           `json:"name"`
	Loaded     bool             `json:"loaded"`
	Properties slime.Properties `json:"properties"`
	CreatedAt  int64            `json:"created_at,omitempty"`
}

// WorldsResponse - ответ GET /worlds
type WorldsResponse struct {
	Stored []string `json:"stored"`
	Loaded []string `json:"loaded"`
}

type adminHandlers struct {
	store    *world.Store
	loop     *world.ControlLoop
	defaults slime.Properties
	metrics  *ServerMetrics
	log      *logging.Logger
}

// NewAdminRouter собирает маршруты управления мирами:
//
//	GET    /worlds             сохранённые и загруженные миры
//	GET    /worlds/:name       загруженный мир
//	POST   /worlds/:name       загрузить или создать и активировать; тело - свойства {"difficulty": "hard"}
//	POST   /worlds/:name/save  сохранить загруженный мир
//	DELETE /worlds/:name       выгрузить и удалить (202, если хост отпустил мир)
func NewAdminRouter(cfg AdminConfig) (*gin.Engine, error) {
	if cfg.Store == nil || cfg.Loop == nil {
		return nil, errors.New("api: admin router needs a store and a control loop")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetAPILogger()
	}
	if cfg.Defaults == (slime.Properties{}) {
		cfg.Defaults = slime.DefaultProperties()
	}

	h := &adminHandlers{
		store:    cfg.Store,
		loop:     cfg.Loop,
		defaults: cfg.Defaults,
		metrics:  NewServerMetrics(),
		log:      cfg.Logger,
	}

	router := newRouter("world_admin", cfg.Registry, cfg.Logger)
	router.GET("/health", h.handleHealth)

	worlds := router.Group("/worlds")
	if cfg.Issuer != nil {
		worlds.Use(jwtMiddleware(cfg.Issuer), adminMiddleware())
	} else {
		cfg.Logger.Warn("⚠️ Admin REST работает без авторизации")
	}
	{
		worlds.GET("", h.handleList)
		worlds.GET("/:name", h.handleGet)
		worlds.POST("/:name", h.handleLoad)
		worlds.POST("/:name/save", h.handleSave)
		worlds.DELETE("/:name", h.handleDelete)
	}
	return router, nil
}

func (h *adminHandlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"loaded": len(h.store.LoadedWorlds()),
		"server": h.metrics.Snapshot(),
	})
}

func (h *adminHandlers) handleList(c *gin.Context) {
	stored, err := h.store.List(c.Request.Context())
	if err != nil {
		abort(c, statusFor(err), err.Error())
		return
	}
	if stored == nil {
		stored = []string{}
	}
	c.JSON(http.StatusOK, WorldsResponse{Stored: stored, Loaded: h.store.LoadedWorlds()})
}

func (h *adminHandlers) handleGet(c *gin.Context) {
	w, ok := h.store.Loaded(c.Param("name"))
	if !ok {
		abort(c, http.StatusNotFound, "world is not loaded")
		return
	}
	c.JSON(http.StatusOK, describe(w))
}

func (h *adminHandlers) handleLoad(c *gin.Context) {
	name := c.Param("name")

	overrides := map[string]string{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&overrides); err != nil {
			abort(c, http.StatusBadRequest, "body must be a JSON object of world properties")
			return
		}
	}
	props, err := slime.ParseProperties(h.defaults, overrides)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	w, err := h.store.GetOrCreate(ctx, name, props)
	if err != nil {
		var loadErr *world.LoadError
		if errors.As(err, &loadErr) {
			abort(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		abort(c, statusFor(err), err.Error())
		return
	}

	err = h.loop.Do(ctx, func(ctx context.Context) error {
		return h.store.Materialize(ctx, w)
	})
	if err != nil {
		status := adminStatusFor(err)
		if status >= 500 {
			h.log.Error("❌ Мир %s не активирован: %v", name, err)
		}
		abort(c, status, err.Error())
		return
	}
	c.JSON(http.StatusOK, describe(w))
}

func (h *adminHandlers) handleSave(c *gin.Context) {
	w, ok := h.store.Loaded(c.Param("name"))
	if !ok {
		abort(c, http.StatusNotFound, "world is not loaded")
		return
	}
	if err := h.store.Save(c.Request.Context(), w); err != nil {
		abort(c, adminStatusFor(err), err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *adminHandlers) handleDelete(c *gin.Context) {
	name := c.Param("name")
	if err := loader.ValidateName(name); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if !h.store.Delete(c.Request.Context(), name) {
		abort(c, http.StatusConflict, "host refused to unload the world")
		return
	}
	c.Status(http.StatusAccepted)
}

// adminStatusFor: мир, вытесненный параллельным удалением, - конфликт, а не сбой хоста
func adminStatusFor(err error) int {
	if errors.Is(err, world.ErrNotLoaded) {
		return http.StatusConflict
	}
	return statusFor(err)
}

func describe(w *slime.World) WorldResponse {
	return WorldResponse{
		Name:       w.Name,
		Loaded:     true,
		Properties: w.Properties,
		CreatedAt:  w.CreatedAt,
	}
}
