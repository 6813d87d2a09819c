package world

import (
	"context"
	"sort"
	"sync"

	"github.com/annel0/slime-worlds/internal/slime"
)

// Host - среда, в которой миры становятся "живыми" (игровой сервер).
type Host interface {
	// Activate делает мир активным. Вызывается только из управляющего цикла.
	Activate(ctx context.Context, w *slime.World) error

	// Deactivate выгружает активный мир. false - хост отказался, мир остаётся активным.
	// Для неактивного мира возвращает true.
	Deactivate(name string) bool
}

// MemoryHost - хост, который просто помнит активные миры.
// Используется сервером без игрового движка и в тестах.
type MemoryHost struct {
	mu     sync.Mutex
	active map[string]*slime.World
	veto   func(name string) bool
}

func NewMemoryHost() *MemoryHost {
	return &MemoryHost{active: make(map[string]*slime.World)}
}

// SetVeto задаёт проверку перед выгрузкой: если она вернёт false, Deactivate откажет.
func (h *MemoryHost) SetVeto(veto func(name string) bool) {
	h.mu.Lock()
	h.veto = veto
	h.mu.Unlock()
}

func (h *MemoryHost) Activate(ctx context.Context, w *slime.World) error {
	if !IsControlContext(ctx) {
		return &PreconditionError{Op: "activate", Err: ErrWrongThread}
	}
	h.mu.Lock()
	h.active[w.Name] = w
	h.mu.Unlock()
	return nil
}

func (h *MemoryHost) Deactivate(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[name]; !ok {
		return true
	}
	if h.veto != nil && !h.veto(name) {
		return false
	}
	delete(h.active, name)
	return true
}

func (h *MemoryHost) IsActive(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.active[name]
	return ok
}

// Active возвращает отсортированные имена активных миров
func (h *MemoryHost) Active() []string {
	h.mu.Lock()
	names := make([]string, 0, len(h.active))
	for name := range h.active {
		names = append(names, name)
	}
	h.mu.Unlock()
	sort.Strings(names)
	return names
}
