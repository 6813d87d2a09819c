package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/slime-worlds/internal/logging"
)

// NATSPublisher публикует события в subject <prefix>.<type>, например worlds.created.
type NATSPublisher struct {
	nc        *nats.Conn
	prefix    string
	source    string
	published uint64
	failed    uint64
}

// NewNATSPublisher подключается к NATS. url: nats://127.0.0.1:4222
func NewNATSPublisher(url, prefix, source string) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = "worlds"
	}

	nc, err := nats.Connect(url,
		nats.Name(source),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn("⚠️ NATS соединение потеряно: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("🔄 NATS переподключен к %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSPublisher{nc: nc, prefix: prefix, source: source}, nil
}

// Subject возвращает subject для типа события
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

// Publish сериализует Event в JSON. Source подставляется, если не задан.
func (p *NATSPublisher) Publish(ctx context.Context, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Source == "" {
		ev.Source = p.source
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.Subject(ev.Type), data); err != nil {
		atomic.AddUint64(&p.failed, 1)
		return err
	}
	atomic.AddUint64(&p.published, 1)
	return nil
}

// Subscribe вызывает handler на каждое событие из <prefix>.*
func (p *NATSPublisher) Subscribe(handler func(*Event)) (*nats.Subscription, error) {
	return p.nc.Subscribe(p.prefix+".*", func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logging.Warn("⚠️ Некорректное событие в %s: %v", msg.Subject, err)
			return
		}
		handler(&ev)
	})
}

// Stats - число опубликованных и неудачных публикаций
func (p *NATSPublisher) Stats() (published, failed uint64) {
	return atomic.LoadUint64(&p.published), atomic.LoadUint64(&p.failed)
}

// Close дожидается отправки буфера и закрывает соединение
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
