package world

import (
	"errors"
	"fmt"

	"github.com/annel0/slime-worlds/internal/slime"
)

var (
	// ErrWrongThread - операция вызвана вне управляющего цикла
	ErrWrongThread = errors.New("world: not on the control loop")

	// ErrNotLoaded - мир не принадлежит реестру этого хранилища
	ErrNotLoaded = errors.New("world: world is not loaded")

	// ErrNoHost - хранилище создано без хоста
	ErrNoHost = errors.New("world: no host configured")

	// ErrAlreadyExists - мир с таким именем уже есть в целевом хранилище
	ErrAlreadyExists = errors.New("world: world already exists")
)

// PreconditionError - ошибка использования API (не тот поток, чужой мир).
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("world: %s: precondition failed: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// LoadError - сохранённые байты мира не удалось разобрать.
// Для этого имени ошибка фатальна: мир не считается отсутствующим и не пересоздаётся.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("world: load %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsFatal - ошибка формата, а не временная ошибка ввода-вывода
func IsFatal(err error) bool {
	return errors.Is(err, slime.ErrCorruptedWorld) || errors.Is(err, slime.ErrNewerFormat)
}
