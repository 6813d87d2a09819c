package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/slime-worlds/internal/api"
	"github.com/annel0/slime-worlds/internal/auth"
	"github.com/annel0/slime-worlds/internal/cache"
	"github.com/annel0/slime-worlds/internal/config"
	"github.com/annel0/slime-worlds/internal/events"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/logging"
	"github.com/annel0/slime-worlds/internal/observability"
	"github.com/annel0/slime-worlds/internal/world"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию SLIME_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := logging.InitDefaultLogger("server", cfg.Logging.Dir, level); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("🌍 Запуск хоста миров...")

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("⚠️ Остановка OpenTelemetry: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// недоступное хранилище - ошибка запуска, а не первой загрузки мира
	backend, err := loader.Select(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	var worlds loader.Loader = loader.Instrument(backend, string(cfg.Storage.Type), loader.NewMetrics(reg))
	if cfg.Cache.Enabled {
		cached, err := cache.FromConfig(ctx, worlds, cfg.Cache)
		if err != nil {
			_ = worlds.Close()
			return err
		}
		worlds = cached
	}

	publisher, err := events.Build(cfg.Events, reg)
	if err != nil {
		logging.Warn("⚠️ События миров отключены: %v", err)
		publisher = events.Nop{}
	}
	defer publisher.Close()

	loop := world.NewControlLoop(64)
	loop.Start(ctx)

	store := world.NewStore(worlds, world.Options{
		Host:      world.NewMemoryHost(),
		Publisher: publisher,
		Logger:    logging.GetWorldLogger(),
	})

	var issuer *auth.TokenIssuer
	if cfg.API.TokenSecret != "" {
		issuer, err = auth.NewTokenIssuer(cfg.API.TokenSecret, cfg.API.TokenTTL)
		if err != nil {
			return err
		}
	}

	router, err := api.NewAdminRouter(api.AdminConfig{
		Store:    store,
		Loop:     loop,
		Defaults: cfg.Worlds,
		Issuer:   issuer,
		Registry: reg,
		Logger:   logging.GetAPILogger(),
	})
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.Server.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	logging.Info("✅ Хост миров запущен")
	logging.Info("   💾 Хранилище: %s", cfg.Storage.Type)
	logging.Info("   🛠  Admin REST: http://localhost%s/worlds", cfg.Server.AdminAddr)
	if cfg.Server.MetricsAddr != "" {
		logging.Info("   📈 Метрики: http://localhost%s/metrics", cfg.Server.MetricsAddr)
	}

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал, завершение работы...")
	case err = <-errCh:
		logging.Error("❌ HTTP сервер: %v", err)
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("❌ Ошибка остановки %s: %v", srv.Addr, err)
		}
	}
	loop.Stop()

	// фоновые удаления дописываются до закрытия драйвера
	if err := store.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия хранилища: %v", err)
	}
	return err
}
