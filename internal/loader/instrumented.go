package loader

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/annel0/slime-worlds/internal/loader"

// Metrics - Prometheus метрики операций драйверов:
//
//	slime_loader_operation_duration_seconds{backend,op} - histogram
//	slime_loader_errors_total{backend,op}               - counter (ErrWorldNotFound не считается)
type Metrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil - дефолтный регистр).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slime",
			Subsystem: "loader",
			Name:      "operation_duration_seconds",
			Help:      "Длительность операций хранилища миров.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"backend", "op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slime",
			Subsystem: "loader",
			Name:      "errors_total",
			Help:      "Число операций хранилища, завершившихся ошибкой.",
		}, []string{"backend", "op"}),
	}
	reg.MustRegister(m.duration, m.errors)
	return m
}

// Instrumented пишет метрики и OpenTelemetry span на каждую операцию драйвера.
type Instrumented struct {
	next    Loader
	backend string
	metrics *Metrics
	tracer  trace.Tracer
}

// Instrument оборачивает драйвер. metrics может быть nil - тогда только трассировка.
func Instrument(l Loader, backend string, metrics *Metrics) *Instrumented {
	return &Instrumented{
		next:    l,
		backend: backend,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

func (i *Instrumented) start(ctx context.Context, op, name string) (context.Context, func(error)) {
	ctx, span := i.tracer.Start(ctx, "loader."+op, trace.WithAttributes(
		attribute.String("slime.backend", i.backend),
		attribute.String("slime.world", name),
	))
	begin := time.Now()

	return ctx, func(err error) {
		if i.metrics != nil {
			i.metrics.duration.WithLabelValues(i.backend, op).Observe(time.Since(begin).Seconds())
		}
		if err != nil && !errors.Is(err, ErrWorldNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if i.metrics != nil {
				i.metrics.errors.WithLabelValues(i.backend, op).Inc()
			}
		}
		span.End()
	}
}

func (i *Instrumented) Exists(ctx context.Context, name string) (bool, error) {
	ctx, done := i.start(ctx, "exists", name)
	ok, err := i.next.Exists(ctx, name)
	done(err)
	return ok, err
}

func (i *Instrumented) List(ctx context.Context) ([]string, error) {
	ctx, done := i.start(ctx, "list", "")
	names, err := i.next.List(ctx)
	done(err)
	return names, err
}

func (i *Instrumented) Read(ctx context.Context, name string) ([]byte, error) {
	ctx, done := i.start(ctx, "read", name)
	data, err := i.next.Read(ctx, name)
	done(err)
	return data, err
}

func (i *Instrumented) Write(ctx context.Context, name string, data []byte) error {
	ctx, done := i.start(ctx, "write", name)
	err := i.next.Write(ctx, name, data)
	done(err)
	return err
}

func (i *Instrumented) Delete(ctx context.Context, name string) error {
	ctx, done := i.start(ctx, "delete", name)
	err := i.next.Delete(ctx, name)
	done(err)
	return err
}

func (i *Instrumented) Close() error {
	return i.next.Close()
}
