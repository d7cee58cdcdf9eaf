package world

import "sync"

// eventQueue хранит события одного типа в двойном буфере.
// При ротации текущий буфер становится прошлым, а события старше
// одного тика вытесняются.
type eventQueue struct {
	mu       sync.Mutex
	current  []any
	previous []any
}

func (q *eventQueue) emit(ev any) {
	q.mu.Lock()
	q.current = append(q.current, ev)
	q.mu.Unlock()
}

func (q *eventQueue) rotate() {
	q.mu.Lock()
	q.previous = q.current
	q.current = nil
	q.mu.Unlock()
}

func (q *eventQueue) all() []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	res := make([]any, 0, len(q.previous)+len(q.current))
	res = append(res, q.previous...)
	res = append(res, q.current...)
	return res
}

// RegisterEvent регистрирует тип события по имени. Повторная
// регистрация — no-op.
func (w *World) RegisterEvent(name string) {
	if _, ok := w.events[name]; !ok {
		w.events[name] = &eventQueue{}
	}
}

// EmitEvent публикует событие. Допускается из параллельных систем
// pre-update: очередь защищена собственным мьютексом.
func (w *World) EmitEvent(name string, ev any) {
	q, ok := w.events[name]
	if !ok {
		return
	}
	q.emit(ev)
}

// Events возвращает события типа, опубликованные в текущем и прошлом тике.
func (w *World) Events(name string) []any {
	q, ok := w.events[name]
	if !ok {
		return nil
	}
	return q.all()
}

// RotateEvents ротирует двойные буферы всех зарегистрированных типов
// событий, вытесняя события старше одного тика.
func (w *World) RotateEvents() {
	for _, q := range w.events {
		q.rotate()
	}
}
