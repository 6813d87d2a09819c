// Package events публикует события жизненного цикла миров (создан, загружен, удалён).
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type - тип события
type Type string

const (
	WorldCreated      Type = "created"
	WorldLoaded       Type = "loaded"
	WorldActivated    Type = "activated"
	WorldDeleted      Type = "deleted"
	WorldDeleteFailed Type = "delete_failed"
)

// Event - конверт события. Сериализуется в JSON.
type Event struct {
	ID        string            `json:"id"`        // UUID
	Timestamp time.Time         `json:"timestamp"` // UTC
	Source    string            `json:"source"`    // имя сервиса-источника
	Type      Type              `json:"type"`
	World     string            `json:"world"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// New заполняет ID и Timestamp
func New(t Type, world string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      t,
		World:     world,
	}
}

// Publisher отправляет события. Ошибка публикации не должна ломать операцию,
// ради которой событие отправлялось: вызывающий только логирует её.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
	Close() error
}

// Nop ничего не публикует
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) Close() error                          { return nil }

// Recorder хранит события в памяти (тесты, отладка).
type Recorder struct {
	mu     sync.Mutex
	events []*Event
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Publish(_ context.Context, ev *Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events возвращает копию записанных событий
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types возвращает типы событий для мира в порядке публикации
func (r *Recorder) Types(world string) []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Type
	for _, ev := range r.events {
		if ev.World == world {
			out = append(out, ev.Type)
		}
	}
	return out
}

// WaitFor ждёт событие типа t для мира world
func (r *Recorder) WaitFor(world string, t Type, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		for _, got := range r.Types(world) {
			if got == t {
				return true
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			return false
		}
	}
}
