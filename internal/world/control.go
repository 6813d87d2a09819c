package world

import (
	"context"
	"errors"
	"sync"

	"github.com/annel0/slime-worlds/internal/logging"
)

// ErrLoopStopped - управляющий цикл остановлен и задачи больше не принимает
var ErrLoopStopped = errors.New("world: control loop stopped")

type controlKey struct{}

type task struct {
	fn     func(ctx context.Context) error
	result chan error // nil для Post
}

// ControlLoop - единственная горутина, в которой разрешено активировать миры.
// Задачи выполняются строго по очереди.
type ControlLoop struct {
	tasks    chan task
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	runOnce  sync.Once
}

// NewControlLoop создаёт цикл с очередью на buffer задач. Его нужно запустить через Run или Start.
func NewControlLoop(buffer int) *ControlLoop {
	return &ControlLoop{
		tasks: make(chan task, buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// IsControlContext сообщает, выполняется ли код внутри задачи управляющего цикла.
func IsControlContext(ctx context.Context) bool {
	_, ok := ctx.Value(controlKey{}).(*ControlLoop)
	return ok
}

// Run обрабатывает задачи до отмены ctx или вызова Stop. Повторный вызов ничего не делает.
func (c *ControlLoop) Run(ctx context.Context) {
	c.runOnce.Do(func() {
		defer close(c.done)
		loopCtx := context.WithValue(ctx, controlKey{}, c)

		for {
			select {
			case t := <-c.tasks:
				c.execute(loopCtx, t)
			case <-ctx.Done():
				return
			case <-c.quit:
				return
			}
		}
	})
}

// Start запускает Run в отдельной горутине
func (c *ControlLoop) Start(ctx context.Context) {
	go c.Run(ctx)
}

func (c *ControlLoop) execute(ctx context.Context, t task) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("💥 Паника в управляющем цикле: %v", r)
				err = errors.New("world: control task panicked")
			}
		}()
		err = t.fn(ctx)
	}()

	if t.result != nil {
		t.result <- err
	} else if err != nil {
		logging.Error("❌ Задача управляющего цикла завершилась с ошибкой: %v", err)
	}
}

// Do выполняет fn в управляющем цикле и ждёт результата.
// Внутри задачи цикла fn вызывается сразу, иначе цикл ждал бы сам себя.
func (c *ControlLoop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if IsControlContext(ctx) {
		return fn(ctx)
	}

	t := task{fn: fn, result: make(chan error, 1)}
	select {
	case c.tasks <- t:
	case <-c.done:
		return ErrLoopStopped
	case <-c.quit:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.result:
		return err
	case <-c.done:
		// задача могла успеть выполниться перед остановкой
		select {
		case err := <-t.result:
			return err
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post ставит fn в очередь без ожидания результата. Ошибка fn логируется.
func (c *ControlLoop) Post(fn func(ctx context.Context) error) error {
	select {
	case <-c.quit:
		return ErrLoopStopped
	case <-c.done:
		return ErrLoopStopped
	default:
	}

	select {
	case c.tasks <- task{fn: fn}:
		return nil
	case <-c.quit:
		return ErrLoopStopped
	case <-c.done:
		return ErrLoopStopped
	}
}

// Stop останавливает цикл и ждёт завершения текущей задачи.
// Задачи, оставшиеся в очереди, не выполняются. Нельзя вызывать из задачи цикла.
func (c *ControlLoop) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
	// если Run ещё не вызывался, он уже не запустится
	c.runOnce.Do(func() { close(c.done) })
	<-c.done
}
