package memory

import (
	"context"
	"sync"

	"github.com/qrave1/RoomCall/internal/application/metric"
	"github.com/qrave1/RoomCall/internal/domain/events"
)

// EventBus - широковещательная шина событий переговоров внутри процесса.
// Событие получают все подписчики, которые были на момент публикации;
// поздние подписчики прошлых событий не видят.
type EventBus struct {
	subs map[*Mailbox[events.NegotiationEvent]]struct{}
	mu   sync.Mutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[*Mailbox[events.NegotiationEvent]]struct{}),
	}
}

// Publish не блокирует: у каждого подписчика своя неограниченная очередь
func (b *EventBus) Publish(ev events.NegotiationEvent) {
	metric.RecordNegotiationEvent(string(ev.Kind))

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		sub.Push(ev)
	}
}

// Subscribe возвращает поток событий до завершения ctx
func (b *EventBus) Subscribe(ctx context.Context) <-chan events.NegotiationEvent {
	mb := NewMailbox[events.NegotiationEvent]()

	b.mu.Lock()
	b.subs[mb] = struct{}{}
	b.mu.Unlock()

	out := make(chan events.NegotiationEvent)

	go mb.Pump(ctx, out)

	go func() {
		<-ctx.Done()

		b.mu.Lock()
		delete(b.subs, mb)
		b.mu.Unlock()

		mb.Close()
	}()

	return out
}

func (b *EventBus) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}
