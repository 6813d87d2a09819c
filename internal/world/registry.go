package world

import (
	"sort"
	"sync"

	"github.com/annel0/slime-worlds/internal/slime"
)

// Registry - загруженные миры по имени. Не больше одного мира на имя.
type Registry struct {
	mu     sync.RWMutex
	worlds map[string]*slime.World
}

func NewRegistry() *Registry {
	return &Registry{worlds: make(map[string]*slime.World)}
}

func (r *Registry) Get(name string) (*slime.World, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.worlds[name]
	return w, ok
}

// Put добавляет мир, если имя свободно, и возвращает мир, который остался в реестре.
func (r *Registry) Put(w *slime.World) *slime.World {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.worlds[w.Name]; ok {
		return existing
	}
	r.worlds[w.Name] = w
	return w
}

// Remove удаляет мир из реестра; false, если его там не было
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.worlds[name]; !ok {
		return false
	}
	delete(r.worlds, name)
	return true
}

// Names возвращает отсортированные имена загруженных миров
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.worlds))
	for name := range r.worlds {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.worlds)
}
