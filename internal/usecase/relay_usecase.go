package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/application/metric"
	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/domain/codec"
)

// RelayUsecase - серверная сторона канала сигнализации: принимает документы
// участников и раздаёт их подписчикам
type RelayUsecase interface {
	PutDocument(ctx context.Context, roomID, category, key string, payload domain.Payload) error
	GetDocument(ctx context.Context, roomID, category, key string) (domain.Payload, bool, error)
	WatchDocument(ctx context.Context, roomID, category, key string) (<-chan domain.Payload, error)
	Rooms(ctx context.Context) ([]string, error)
}

type relayUsecase struct {
	store domain.SignalingChannel
}

func NewRelayUsecase(store domain.SignalingChannel) RelayUsecase {
	return &relayUsecase{store: store}
}

func (uc *relayUsecase) PutDocument(ctx context.Context, roomID, category, key string, payload domain.Payload) error {
	if err := validateDocument(roomID, category, key); err != nil {
		return err
	}

	if payload == nil {
		return fmt.Errorf("put %s/%s: empty body: %w", category, key, domain.ErrMalformedPayload)
	}

	if err := uc.store.Put(ctx, roomID, category, key, payload); err != nil {
		return fmt.Errorf("put %s/%s: %w", category, key, err)
	}

	metric.RecordSignalingWrite(category, key)

	if category == domain.CategoryMeta && codec.DecodeRoomStatus(payload) == domain.RoomStatusTerminated {
		slog.Info("room terminated", slog.String(constant.RoomID, roomID))
	}

	return nil
}

func (uc *relayUsecase) GetDocument(ctx context.Context, roomID, category, key string) (domain.Payload, bool, error) {
	if err := validateDocument(roomID, category, key); err != nil {
		return nil, false, err
	}

	p, ok, err := uc.store.Get(ctx, roomID, category, key)
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", category, key, err)
	}

	return p, ok, nil
}

func (uc *relayUsecase) WatchDocument(ctx context.Context, roomID, category, key string) (<-chan domain.Payload, error) {
	if err := validateDocument(roomID, category, key); err != nil {
		return nil, err
	}

	ch, err := uc.store.Watch(ctx, roomID, category, key)
	if err != nil {
		return nil, fmt.Errorf("watch %s/%s: %w", category, key, err)
	}

	return ch, nil
}

func (uc *relayUsecase) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := uc.store.Rooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	return rooms, nil
}

func validateDocument(roomID, category, key string) error {
	if roomID == "" || !domain.ValidDocument(category, key) {
		return fmt.Errorf("%w: %q/%q/%q", domain.ErrInvalidKey, roomID, category, key)
	}

	return nil
}
