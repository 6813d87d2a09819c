// Package api - HTTP поверхности хранилища миров: удалённый API для драйвера
// loader.APILoader и admin REST хоста миров.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/slime-worlds/internal/auth"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/logging"
	"github.com/annel0/slime-worlds/internal/middleware"
	"github.com/annel0/slime-worlds/internal/slime"
)

// maxWorldSize - предел тела PUT /worlds/{name}
const maxWorldSize = 64 << 20

// Config содержит конфигурацию сервера API миров
type Config struct {
	Addr     string
	Loader   loader.Loader     // хранилище, которое обслуживает сервер
	Issuer   *auth.TokenIssuer // проверка токенов; обязательно
	Registry *prometheus.Registry
	Logger   *logging.Logger
}

// Server отдаёт миры из локального хранилища по HTTP:
//
//	GET    /worlds         {"worlds": [...]}
//	HEAD   /worlds/:name   200 | 404
//	GET    /worlds/:name   байты мира | 404 | 422
//	PUT    /worlds/:name   204 | 422 (тело не является миром)
//	DELETE /worlds/:name   204 | 404
type Server struct {
	router  *gin.Engine
	http    *http.Server
	loader  loader.Loader
	metrics *ServerMetrics
	log     *logging.Logger
}

// NewServer создаёт сервер и настраивает маршруты
func NewServer(cfg Config) (*Server, error) {
	if cfg.Loader == nil {
		return nil, errors.New("api: loader is required")
	}
	if cfg.Issuer == nil {
		return nil, errors.New("api: token issuer is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8091"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetAPILogger()
	}

	s := &Server{
		router:  newRouter("world_api", cfg.Registry, cfg.Logger),
		loader:  cfg.Loader,
		metrics: NewServerMetrics(),
		log:     cfg.Logger,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.router.GET("/health", s.handleHealth)

	worlds := s.router.Group("/worlds")
	worlds.Use(jwtMiddleware(cfg.Issuer))
	{
		worlds.GET("", s.handleList)
		worlds.HEAD("/:name", s.handleExists)
		worlds.GET("/:name", s.handleRead)
		worlds.PUT("/:name", s.handleWrite)
		worlds.DELETE("/:name", s.handleDelete)
	}
	return s, nil
}

// newRouter - gin без стандартного logger, с recovery, логами, трассировкой и метриками
func newRouter(service string, reg *prometheus.Registry, log *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	router.Use(otelgin.Middleware(service))
	router.Use(middleware.NewRequestLogger(log).Handler())

	routes := middleware.NewRouteMetrics(service, reg)
	router.Use(routes.Handler())
	routes.RegisterMetricsEndpoint(router)
	return router
}

// Handler возвращает http.Handler сервера (httptest, встраивание)
func (s *Server) Handler() http.Handler { return s.router }

// Start запускает сервер и блокируется до Shutdown
func (s *Server) Start() error {
	s.log.Info("🌐 API миров слушает %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown дожидается завершения активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// statusFor переводит ошибку драйвера в HTTP статус
func statusFor(err error) int {
	switch {
	case errors.Is(err, loader.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, loader.ErrWorldNotFound):
		return http.StatusNotFound
	case errors.Is(err, slime.ErrCorruptedWorld), errors.Is(err, slime.ErrNewerFormat):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("❌ %s %s: %v", op, c.Param("name"), err)
	}
	abort(c, status, err.Error())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"server": s.metrics.Snapshot(),
	})
}

func (s *Server) handleList(c *gin.Context) {
	names, err := s.loader.List(c.Request.Context())
	if err != nil {
		s.fail(c, "list", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, loader.ListResponse{Worlds: names})
}

func (s *Server) handleExists(c *gin.Context) {
	ok, err := s.loader.Exists(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.AbortWithStatus(statusFor(err))
		return
	}
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleRead(c *gin.Context) {
	data, err := s.loader.Read(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, "read", err)
		return
	}
	c.Data(http.StatusOK, loader.ContentWorld, data)
}

func (s *Server) handleWrite(c *gin.Context) {
	name := c.Param("name")
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWorldSize))
	if err != nil {
		abort(c, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	// мусор в хранилище не пускаем
	if _, err := slime.Deserialize(data); err != nil {
		s.fail(c, "write", err)
		return
	}
	if err := s.loader.Write(c.Request.Context(), name, data); err != nil {
		s.fail(c, "write", err)
		return
	}
	s.log.Debug("💾 %s записан (%d байт)", name, len(data))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.loader.Delete(c.Request.Context(), c.Param("name")); err != nil {
		s.fail(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}
