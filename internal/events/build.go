package events

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/slime-worlds/internal/config"
)

// Build собирает publisher по конфигурации: NATS и/или вебхук.
// Если не задано ни то, ни другое, события не публикуются (Nop).
// reg != nil оборачивает результат счётчиками.
func Build(cfg config.EventsConfig, reg prometheus.Registerer) (Publisher, error) {
	var out Multi
	if cfg.NATSURL != "" {
		p, err := NewNATSPublisher(cfg.NATSURL, cfg.Subject, cfg.Source)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if cfg.WebhookURL != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		out = append(out, NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, cfg.Source, client))
	}

	var p Publisher
	switch len(out) {
	case 0:
		p = Nop{}
	case 1:
		p = out[0]
	default:
		p = out
	}
	if reg != nil {
		return WithMetrics(p, reg), nil
	}
	return p, nil
}
