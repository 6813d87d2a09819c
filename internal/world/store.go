// Package world управляет жизненным циклом миров островов поверх драйвера хранилища:
// загрузка или создание, активация в хосте, сохранение и удаление.
package world

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/slime-worlds/internal/events"
	"github.com/annel0/slime-worlds/internal/loader"
	"github.com/annel0/slime-worlds/internal/logging"
	"github.com/annel0/slime-worlds/internal/slime"
)

// Options - необязательные зависимости Store
type Options struct {
	Host      Host
	Publisher events.Publisher
	Logger    *logging.Logger
}

// Store - фасад над драйвером хранилища. Держит реестр загруженных миров
// и сериализует операции над одним именем.
type Store struct {
	loader   loader.Loader
	registry *Registry
	keys     *loader.KeyedMutex
	host     Host
	events   events.Publisher
	log      *logging.Logger

	// mu охраняет tombs и связку "реестр + tombs"
	mu    sync.Mutex
	tombs map[string]*tombstone

	pending sync.WaitGroup
}

// tombstone - удаление мира, фоновая часть которого ещё не завершилась.
// Пока tombstone лежит в Store.tombs, мира с этим именем нет в реестре.
type tombstone struct {
	prev  *tombstone
	world *slime.World
	done  chan struct{} // закрывается под Store.mu
}

func NewStore(l loader.Loader, opts Options) *Store {
	s := &Store{
		loader:   l,
		registry: NewRegistry(),
		keys:     loader.NewKeyedMutex(),
		tombs:    make(map[string]*tombstone),
		host:     opts.Host,
		events:   opts.Publisher,
		log:      opts.Logger,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.log == nil {
		s.log = logging.GetWorldLogger()
	}
	return s
}

// Loader возвращает драйвер хранилища
func (s *Store) Loader() loader.Loader { return s.loader }

func (s *Store) publish(ctx context.Context, ev *events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("⚠️ Событие %s для %s не опубликовано: %v", ev.Type, ev.World, err)
	}
}

// GetOrCreate возвращает мир из реестра, загружает его из хранилища или создаёт
// новый с defaults и сразу записывает. Повторные вызовы возвращают тот же *slime.World.
//
// Повреждённые данные или формат новее поддерживаемого возвращаются как *LoadError:
// такой мир не создаётся заново поверх существующих байтов.
func (s *Store) GetOrCreate(ctx context.Context, name string, defaults slime.Properties) (*slime.World, error) {
	if err := loader.ValidateName(name); err != nil {
		return nil, err
	}
	if w, ok := s.registry.Get(name); ok {
		return w, nil
	}
	if err := s.awaitDeletion(ctx, name); err != nil {
		return nil, err
	}

	unlock := s.keys.Lock(name)
	defer unlock()

	// пока ждали блокировку, мир мог загрузить другой вызов
	if w, ok := s.registry.Get(name); ok {
		return w, nil
	}

	exists, err := s.loader.Exists(ctx, name)
	if err != nil {
		return nil, err
	}

	var w *slime.World
	if exists {
		w, err = s.load(ctx, name)
	} else {
		w, err = s.create(ctx, name, defaults)
	}
	if err != nil {
		return nil, err
	}

	return s.register(w), nil
}

// awaitDeletion ждёт фоновые удаления name, начатые до вызова
func (s *Store) awaitDeletion(ctx context.Context, name string) error {
	for {
		s.mu.Lock()
		t := s.tombs[name]
		s.mu.Unlock()
		if t == nil {
			return nil
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// register кладёт мир в реестр, если за время загрузки его не начали удалять.
// Иначе вызывающий получает мир, который Delete уже вытеснил.
func (s *Store) register(w *slime.World) *slime.World {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, deleting := s.tombs[w.Name]; deleting {
		s.log.Debug("Мир %s удалён во время загрузки, в реестр не попадает", w.Name)
		return w
	}
	return s.registry.Put(w)
}

// isCurrent - w всё ещё тот мир, что лежит в реестре, и его никто не удаляет
func (s *Store) isCurrent(w *slime.World) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, deleting := s.tombs[w.Name]; deleting {
		return false
	}
	current, ok := s.registry.Get(w.Name)
	return ok && current == w
}

func (s *Store) load(ctx context.Context, name string) (*slime.World, error) {
	data, err := s.loader.Read(ctx, name)
	if err == nil {
		var w *slime.World
		w, err = slime.Deserialize(data)
		if err == nil {
			if w.Name != name {
				s.log.Warn("⚠️ Мир %s сохранён под именем %s", name, w.Name)
				w.Name = name
			}
			s.log.Info("📂 Мир %s загружен (%d байт)", name, len(data))
			s.publish(ctx, events.New(events.WorldLoaded, name))
			return w, nil
		}
	}

	if IsFatal(err) {
		s.log.Error("💥 FATAL: мир %s не читается и не будет загружен: %v", name, err)
		return nil, &LoadError{Name: name, Err: err}
	}
	s.log.Error("❌ Ошибка чтения мира %s: %v", name, err)
	return nil, err
}

func (s *Store) create(ctx context.Context, name string, defaults slime.Properties) (*slime.World, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}

	w := slime.NewWorld(name, defaults)
	data, err := slime.Serialize(w)
	if err != nil {
		return nil, fmt.Errorf("world: serialize %q: %w", name, err)
	}
	if err := s.loader.Write(ctx, name, data); err != nil {
		s.log.Error("❌ Не удалось сохранить новый мир %s: %v", name, err)
		return nil, err
	}

	s.log.Info("🌱 Создан мир %s (difficulty=%s, environment=%s)",
		name, defaults.Difficulty, defaults.Environment)
	s.publish(ctx, events.New(events.WorldCreated, name))
	return w, nil
}

// Save записывает текущее состояние загруженного мира
func (s *Store) Save(ctx context.Context, w *slime.World) error {
	if !s.isCurrent(w) {
		return &PreconditionError{Op: "save", Err: ErrNotLoaded}
	}

	unlock := s.keys.Lock(w.Name)
	defer unlock()

	// пока ждали блокировку, фоновое удаление могло стереть байты
	if !s.isCurrent(w) {
		return &PreconditionError{Op: "save", Err: ErrNotLoaded}
	}

	data, err := slime.Serialize(w)
	if err != nil {
		return fmt.Errorf("world: serialize %q: %w", w.Name, err)
	}
	if err := s.loader.Write(ctx, w.Name, data); err != nil {
		return err
	}
	s.log.Debug("💾 Мир %s сохранён (%d байт)", w.Name, len(data))
	return nil
}

// Materialize активирует мир в хосте. ctx должен быть контекстом задачи управляющего цикла,
// иначе возвращается *PreconditionError с ErrWrongThread.
func (s *Store) Materialize(ctx context.Context, w *slime.World) error {
	if !IsControlContext(ctx) {
		return &PreconditionError{Op: "materialize", Err: ErrWrongThread}
	}
	if s.host == nil {
		return &PreconditionError{Op: "materialize", Err: ErrNoHost}
	}
	if !s.isCurrent(w) {
		return &PreconditionError{Op: "materialize", Err: ErrNotLoaded}
	}

	if err := s.host.Activate(ctx, w); err != nil {
		return fmt.Errorf("world: activate %q: %w", w.Name, err)
	}
	// Delete мог начаться, пока хост активировал мир
	if !s.isCurrent(w) {
		if !s.host.Deactivate(w.Name) {
			s.log.Warn("⚠️ Хост не выгрузил удаляемый мир %s", w.Name)
		}
		return &PreconditionError{Op: "materialize", Err: ErrNotLoaded}
	}
	s.log.Info("✅ Мир %s активирован", w.Name)
	s.publish(ctx, events.New(events.WorldActivated, w.Name))
	return nil
}

// Delete вытесняет мир из реестра и выгружает его из хоста. Удаление байтов идёт в фоне:
// true означает только то, что хост отпустил мир. Удаление несуществующего мира - no-op.
// Ошибки фонового удаления только логируются.
//
// Delete не ждёт ввода-вывода и может вызываться из управляющего цикла.
// GetOrCreate, вызванный после возврата Delete, дожидается фонового удаления.
func (s *Store) Delete(ctx context.Context, name string) bool {
	if err := loader.ValidateName(name); err != nil {
		s.log.Warn("⚠️ Удаление мира: %v", err)
		return false
	}

	// сначала помечаем имя: Materialize больше не активирует этот мир
	t := s.markDeleting(name)
	if s.host != nil && !s.host.Deactivate(name) {
		s.unmarkDeleting(name, t)
		s.log.Warn("⚠️ Хост не выгрузил мир %s, удаление отменено", name)
		return false
	}

	bgCtx := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if t.prev != nil {
			<-t.prev.done
		}
		unlock := s.keys.Lock(name)
		s.removeBytes(bgCtx, name)
		s.finishDeleting(name, t)
		unlock()
	}()
	return true
}

func (s *Store) markDeleting(name string) *tombstone {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tombstone{prev: s.tombs[name], done: make(chan struct{})}
	t.world, _ = s.registry.Get(name)
	s.registry.Remove(name)
	s.tombs[name] = t
	return t
}

// unmarkDeleting откатывает markDeleting, когда хост отказался выгружать мир
func (s *Store) unmarkDeleting(name string, t *tombstone) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tombs[name] == t {
		delete(s.tombs, name)
		if t.prev != nil && !isClosed(t.prev.done) {
			s.tombs[name] = t.prev
		}
	}
	if _, deleting := s.tombs[name]; !deleting && t.world != nil {
		s.registry.Put(t.world)
	}
	close(t.done)
}

func (s *Store) finishDeleting(name string, t *tombstone) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tombs[name] == t {
		delete(s.tombs, name)
	}
	close(t.done)
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (s *Store) removeBytes(ctx context.Context, name string) {
	err := s.loader.Delete(ctx, name)
	switch {
	case err == nil:
		s.log.Info("🗑️ Мир %s удалён", name)
		s.publish(ctx, events.New(events.WorldDeleted, name))
	case errors.Is(err, loader.ErrWorldNotFound):
		// мир ещё не был сохранён
		s.log.Debug("Мир %s отсутствует в хранилище", name)
	default:
		s.log.Error("❌ Фоновое удаление мира %s не удалось: %v", name, err)
		ev := events.New(events.WorldDeleteFailed, name)
		ev.Error = err.Error()
		s.publish(ctx, ev)
	}
}

// Exists проверяет наличие мира в хранилище
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	return s.loader.Exists(ctx, name)
}

// List возвращает имена всех сохранённых миров
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.loader.List(ctx)
}

// Loaded возвращает загруженный мир без обращения к хранилищу
func (s *Store) Loaded(name string) (*slime.World, bool) {
	return s.registry.Get(name)
}

// LoadedWorlds возвращает отсортированные имена загруженных миров
func (s *Store) LoadedWorlds() []string {
	return s.registry.Names()
}

// Wait ждёт завершения фоновых удалений
func (s *Store) Wait() {
	s.pending.Wait()
}

// Close дожидается фоновых удалений и закрывает драйвер
func (s *Store) Close() error {
	s.pending.Wait()
	return s.loader.Close()
}
