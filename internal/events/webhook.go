package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/slime-worlds/internal/logging"
)

// Заголовки запроса вебхука
const (
	HeaderEventType = "X-Event-Type"
	HeaderSignature = "X-Webhook-Signature"
)

// ErrQueueFull - очередь вебхука переполнена, событие пропущено
var ErrQueueFull = errors.New("events: webhook queue is full")

// WebhookPublisher отправляет события POST-запросом на URL.
// Тело подписывается HMAC-SHA256, если задан секрет (заголовок X-Webhook-Signature).
type WebhookPublisher struct {
	url        string
	secret     string
	source     string
	retryCount int
	retryDelay time.Duration
	client     *http.Client

	queue     chan *Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebhookPublisher запускает воркер отправки. client == nil - клиент с таймаутом 30с.
func NewWebhookPublisher(url, secret, source string, client *http.Client) *WebhookPublisher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	wp := &WebhookPublisher{
		url:        url,
		secret:     secret,
		source:     source,
		retryCount: 3,
		retryDelay: time.Second,
		client:     client,
		queue:      make(chan *Event, 1000), // Буфер для событий
		done:       make(chan struct{}),
	}
	go wp.worker()
	return wp
}

// Publish ставит событие в очередь и не ждёт доставки
func (wp *WebhookPublisher) Publish(_ context.Context, ev *Event) error {
	if ev.Source == "" {
		ev.Source = wp.source
	}
	select {
	case wp.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close дожидается отправки очереди
func (wp *WebhookPublisher) Close() error {
	wp.closeOnce.Do(func() { close(wp.queue) })
	<-wp.done
	return nil
}

func (wp *WebhookPublisher) worker() {
	defer close(wp.done)
	for ev := range wp.queue {
		if err := wp.send(ev); err != nil {
			logging.Warn("⚠️ Webhook %s: событие %s для %s не доставлено: %v", wp.url, ev.Type, ev.World, err)
		}
	}
}

func (wp *WebhookPublisher) send(ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= wp.retryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * wp.retryDelay)
		}
		lastErr = wp.post(body, ev.Type)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (wp *WebhookPublisher) post(body []byte, t Type) error {
	req, err := http.NewRequest(http.MethodPost, wp.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "slime-worlds/1.0")
	req.Header.Set("X-Event-Type", string(t))
	if wp.secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, wp.secret))
	}

	resp, err := wp.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Sign - HMAC-SHA256 подпись тела в формате "sha256=<hex>"
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает подпись из заголовка с подписью тела за постоянное время
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

// Multi рассылает событие всем publisher'ам и возвращает объединённую ошибку
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev *Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
