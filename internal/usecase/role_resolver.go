package usecase

import (
	"context"
	"fmt"

	"github.com/qrave1/RoomCall/internal/domain"
	"github.com/qrave1/RoomCall/internal/domain/codec"
)

// RoleResolver выбирает роль участника по состоянию комнаты.
//
// Проверка "нет offer - значит я хост" не атомарна: два участника,
// одновременно пришедшие в пустую комнату, оба станут хостами. Разрешает
// это только канал (последняя запись sdp/OFFER побеждает).
type RoleResolver interface {
	Resolve(ctx context.Context, roomID string) (domain.Role, error)
}

type roleResolver struct {
	channel domain.SignalingChannel
}

func NewRoleResolver(channel domain.SignalingChannel) RoleResolver {
	return &roleResolver{channel: channel}
}

func (r *roleResolver) Resolve(ctx context.Context, roomID string) (domain.Role, error) {
	status, err := RoomStatus(ctx, r.channel, roomID)
	if err != nil {
		return "", err
	}

	if status == domain.RoomStatusTerminated {
		return "", fmt.Errorf("resolve role for %q: %w", roomID, domain.ErrRoomTerminated)
	}

	_, exists, err := r.channel.Get(ctx, roomID, domain.CategorySDP, domain.KeyOffer)
	if err != nil {
		return "", fmt.Errorf("get offer: %w: %w", domain.ErrChannelUnavailable, err)
	}

	if exists {
		return domain.RoleGuest, nil
	}

	return domain.RoleHost, nil
}

// RoomStatus читает meta/status комнаты
func RoomStatus(ctx context.Context, channel domain.SignalingChannel, roomID string) (domain.RoomStatus, error) {
	p, ok, err := channel.Get(ctx, roomID, domain.CategoryMeta, domain.KeyStatus)
	if err != nil {
		return "", fmt.Errorf("get room status: %w: %w", domain.ErrChannelUnavailable, err)
	}

	if !ok {
		return domain.RoomStatusNew, nil
	}

	return codec.DecodeRoomStatus(p), nil
}
