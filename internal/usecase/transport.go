package usecase

import (
	"context"

	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/domain/events"
)

// Transport - медиа-движок одной сессии (peer connection, захват звука).
// Сигнализацию он не знает: локальные описания и кандидаты отдаёт через
// TransportSignals, удалённые получает через Apply.
type Transport interface {
	// Open поднимает peer connection и захват. Хост сразу создаёт offer.
	Open(ctx context.Context, roomID string, role domain.Role, signals TransportSignals) error
	Apply(ctx context.Context, ev events.NegotiationEvent) error
	StopCapture() error
	Close() error
}

// TransportSignals - обратные вызовы движка. Любое поле может быть nil.
type TransportSignals struct {
	OnDescription func(domain.SessionDescription)
	OnCandidate   func(domain.NetworkCandidate)
	OnStream      func(kind string)
}

func (s TransportSignals) EmitDescription(desc domain.SessionDescription) {
	if s.OnDescription != nil {
		s.OnDescription(desc)
	}
}

func (s TransportSignals) EmitCandidate(cand domain.NetworkCandidate) {
	if s.OnCandidate != nil {
		s.OnCandidate(cand)
	}
}

func (s TransportSignals) EmitStream(kind string) {
	if s.OnStream != nil {
		s.OnStream(kind)
	}
}
