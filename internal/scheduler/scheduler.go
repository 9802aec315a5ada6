package scheduler

import (
	"context"
	"sync"
	"time"

	"moviebot/internal/clock"

	"go.uber.org/zap"
)

// ID идентификатор запланированной задачи. Нулевой ID задачей не является.
type ID uint64

// taskTimeout ограничивает время выполнения одной задачи.
const taskTimeout = 10 * time.Second

type entry struct {
	name  string
	fn    func(ctx context.Context)
	timer clock.Timer
}

// Scheduler отложенные задачи с отменой. Используется для удаления
// предупреждений модерации и устаревших сообщений с результатами.
type Scheduler struct {
	clock clock.Clock
	log   *zap.Logger

	mu     sync.Mutex
	next   ID
	tasks  map[ID]*entry
	closed bool

	running sync.WaitGroup
}

func New(c clock.Clock, log *zap.Logger) *Scheduler {
	return &Scheduler{
		clock: c,
		log:   log,
		tasks: make(map[ID]*entry),
	}
}

// After запускает fn через d. После Shutdown возвращает 0 и ничего не планирует.
func (s *Scheduler) After(d time.Duration, name string, fn func(ctx context.Context)) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Warn("scheduler closed, task dropped", zap.String("task", name))
		return 0
	}

	s.next++
	id := s.next
	e := &entry{name: name, fn: fn}
	s.tasks[id] = e
	e.timer = s.clock.AfterFunc(d, func() { s.fire(id) })
	return id
}

// Cancel снимает задачу. false, если она уже выполнилась или не существовала.
func (s *Scheduler) Cancel(id ID) bool {
	s.mu.Lock()
	e, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	e.timer.Stop()
	return true
}

// Pending число задач, ожидающих запуска.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown останавливает таймеры и сразу выполняет все ожидающие задачи,
// пока не истечёт ctx. Затем ждёт уже запущенные задачи.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := make([]*entry, 0, len(s.tasks))
	for id, e := range s.tasks {
		e.timer.Stop()
		pending = append(pending, e)
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	for i, e := range pending {
		if ctx.Err() != nil {
			s.log.Warn("scheduler shutdown interrupted", zap.Int("dropped", len(pending)-i))
			return ctx.Err()
		}
		s.run(ctx, e)
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(id ID) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	delete(s.tasks, id)
	if ok {
		s.running.Add(1)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	defer s.running.Done()
	s.run(context.Background(), e)
}

func (s *Scheduler) run(parent context.Context, e *entry) {
	ctx, cancel := context.WithTimeout(parent, taskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled task", zap.String("task", e.name), zap.Any("recover", r))
		}
	}()
	e.fn(ctx)
}
