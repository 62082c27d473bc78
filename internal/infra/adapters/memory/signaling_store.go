package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/qrave1/RoomCall/internal/domain"
)

type docKey struct {
	room     string
	category string
	key      string
}

// SignalingStore - канал сигнализации в памяти процесса. Хранит последнее
// значение каждого документа и раздаёт каждую запись всем подписчикам.
type SignalingStore struct {
	docs     map[docKey]domain.Payload
	watchers map[docKey]map[*Mailbox[domain.Payload]]struct{}

	mu sync.RWMutex
}

var _ domain.SignalingChannel = (*SignalingStore)(nil)

func NewSignalingStore() *SignalingStore {
	return &SignalingStore{
		docs:     make(map[docKey]domain.Payload),
		watchers: make(map[docKey]map[*Mailbox[domain.Payload]]struct{}),
	}
}

func (s *SignalingStore) Put(ctx context.Context, room, category, key string, payload domain.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k, err := newDocKey(room, category, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[k] = maps.Clone(payload)

	for w := range s.watchers[k] {
		w.Push(maps.Clone(payload))
	}

	return nil
}

func (s *SignalingStore) Get(ctx context.Context, room, category, key string) (domain.Payload, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	k, err := newDocKey(room, category, key)
	if err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.docs[k]
	if !ok {
		return nil, false, nil
	}

	return maps.Clone(p), true, nil
}

func (s *SignalingStore) Watch(ctx context.Context, room, category, key string) (<-chan domain.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k, err := newDocKey(room, category, key)
	if err != nil {
		return nil, err
	}

	mb := NewMailbox[domain.Payload]()

	s.mu.Lock()
	if cur, ok := s.docs[k]; ok {
		mb.Push(maps.Clone(cur))
	}
	if _, ok := s.watchers[k]; !ok {
		s.watchers[k] = make(map[*Mailbox[domain.Payload]]struct{})
	}
	s.watchers[k][mb] = struct{}{}
	s.mu.Unlock()

	out := make(chan domain.Payload)

	go mb.Pump(ctx, out)

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		delete(s.watchers[k], mb)
		if len(s.watchers[k]) == 0 {
			delete(s.watchers, k)
		}
		s.mu.Unlock()

		mb.Close()
	}()

	return out, nil
}

func (s *SignalingStore) Rooms(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for k := range s.docs {
		set[k.room] = struct{}{}
	}

	return slices.Sorted(maps.Keys(set)), nil
}

// watcherCount нужен тестам
func (s *SignalingStore) watcherCount(room, category, key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.watchers[docKey{room: room, category: category, key: key}])
}

func newDocKey(room, category, key string) (docKey, error) {
	if room == "" || !domain.ValidDocument(category, key) {
		return docKey{}, fmt.Errorf("%w: %q/%q/%q", domain.ErrInvalidKey, room, category, key)
	}

	return docKey{room: room, category: category, key: key}, nil
}
