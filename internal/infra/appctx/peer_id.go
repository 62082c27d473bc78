package appctx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const peerIDKey ctxKey = "peerID"

// WithPeerID добавляет id участника в контекст
func WithPeerID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, peerIDKey, id)
}

// PeerID извлекает id участника из контекста
func PeerID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(peerIDKey).(uuid.UUID)
	return id, ok
}
