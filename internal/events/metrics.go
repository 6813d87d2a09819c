package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Counted считает публикации по типам событий.
//
//	slime_events_published_total{type}
//	slime_events_failed_total{type}
type Counted struct {
	Publisher
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

// WithMetrics оборачивает publisher и регистрирует счётчики в reg (nil - дефолтный регистр).
func WithMetrics(p Publisher, reg prometheus.Registerer) *Counted {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Counted{
		Publisher: p,
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slime",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Общее число опубликованных событий миров.",
		}, []string{"type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slime",
			Subsystem: "events",
			Name:      "failed_total",
			Help:      "Событий, которые не удалось опубликовать.",
		}, []string{"type"}),
	}
	reg.MustRegister(c.published, c.failed)
	return c
}

func (c *Counted) Publish(ctx context.Context, ev *Event) error {
	if err := c.Publisher.Publish(ctx, ev); err != nil {
		c.failed.WithLabelValues(string(ev.Type)).Inc()
		return err
	}
	c.published.WithLabelValues(string(ev.Type)).Inc()
	return nil
}
