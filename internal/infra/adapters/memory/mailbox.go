package memory

import (
	"context"
	"sync"
)

// Mailbox - неограниченная FIFO очередь одного получателя. Push никогда не
// блокирует отправителя, Pump доставляет элементы в канал по порядку.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.wake()

	return true
}

// Close запрещает новые элементы; уже принятые будут доставлены
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.wake()
}

func (m *Mailbox[T]) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Pump доставляет элементы в out, пока очередь не закрыта и не пуста или
// пока не завершён ctx. out закрывается на выходе.
func (m *Mailbox[T]) Pump(ctx context.Context, out chan<- T) {
	defer close(out)

	var zero T

	for {
		m.mu.Lock()
		if len(m.items) == 0 {
			closed := m.closed
			m.mu.Unlock()

			if closed {
				return
			}

			select {
			case <-m.notify:
				continue
			case <-ctx.Done():
				return
			}
		}

		v := m.items[0]
		m.items[0] = zero
		m.items = m.items[1:]
		m.mu.Unlock()

		select {
		case out <- v:
		case <-ctx.Done():
			return
		}
	}
}
