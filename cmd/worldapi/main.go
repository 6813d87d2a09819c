// worldapi отдаёт локальное хранилище миров по HTTP для драйвера "api" удалённых хостов.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/slime-worlds/internal/api"
	"github.com/annel0/slime-worlds/internal/auth"
	"github.com/annel0/slime-worlds/internal/config"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/logging"
	"github.com/annel0/slime-worlds/internal/observability"
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
	if err := logging.InitDefaultLogger("worldapi", cfg.Logging.Dir, level); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.Storage.Type == config.BackendAPI {
		logging.Warn("⚠️ worldapi проксирует другой world API: %s", cfg.Storage.API.BaseURI)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	issuer, err := auth.NewTokenIssuer(cfg.API.TokenSecret, cfg.API.TokenTTL)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	backend, err := loader.Select(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	// несколько хостов могут писать один мир одновременно
	l := loader.NewLocked(loader.Instrument(backend, string(cfg.Storage.Type), loader.NewMetrics(reg)), nil)
	defer l.Close()

	srv, err := api.NewServer(api.Config{
		Addr:     cfg.API.Addr,
		Loader:   l,
		Issuer:   issuer,
		Registry: reg,
		Logger:   logging.GetAPILogger(),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал, завершение работы...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
