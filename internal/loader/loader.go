// Package loader содержит драйверы хранилищ миров.
//
// Каждый драйвер реализует Loader поверх одного физического носителя и работает
// только с сериализованными байтами мира. Формат этих байтов принадлежит пакету slime.
package loader

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Loader - единый контракт хранилища миров.
type Loader interface {
	// Exists проверяет наличие мира
	Exists(ctx context.Context, name string) (bool, error)

	// List возвращает снимок имён всех сохранённых миров; порядок не определён
	List(ctx context.Context) ([]string, error)

	// Read читает байты мира. ErrWorldNotFound, если мира нет
	Read(ctx context.Context, name string) ([]byte, error)

	// Write атомарно записывает байты мира: читатель никогда не увидит частичную запись
	Write(ctx context.Context, name string, data []byte) error

	// Delete удаляет мир. ErrWorldNotFound, если мира нет
	Delete(ctx context.Context, name string) error

	// Close освобождает соединения драйвера
	Close() error
}

var (
	// ErrWorldNotFound мира с таким именем нет в хранилище
	ErrWorldNotFound = errors.New("loader: world not found")

	// ErrInvalidName имя мира пустое или небезопасно для файлов/URL
	ErrInvalidName = errors.New("loader: invalid world name")
)

// UnsupportedBackendError - в конфигурации указан неизвестный тип хранилища
type UnsupportedBackendError struct {
	Type string
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("loader: storage backend %q is not supported", e.Type)
}

// ConnectionError - не удалось установить соединение при создании драйвера
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("loader: connect to %s: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IOError - временная ошибка ввода-вывода; вызывающий может повторить операцию
type IOError struct {
	Op   string
	Name string
	Err  error
}

func (e *IOError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("loader: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("loader: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op, name string, err error) error {
	return &IOError{Op: op, Name: name, Err: err}
}

func notFound(name string) error {
	return fmt.Errorf("%w: %q", ErrWorldNotFound, name)
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidateName проверяет, что имя безопасно для всех бэкендов
func ValidateName(name string) error {
	if name == "." || name == ".." || !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
