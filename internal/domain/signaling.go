package domain

import "context"

// Payload - документ канала сигнализации в том виде, в каком он лежит на проводе
type Payload map[string]any

// SignalingChannel - внешний канал сигнализации: хранилище документов
// room/category/key с подпиской на изменения.
type SignalingChannel interface {
	Put(ctx context.Context, room, category, key string, payload Payload) error

	// Get возвращает false, если документа нет
	Get(ctx context.Context, room, category, key string) (Payload, bool, error)

	// Watch отдаёт текущее значение документа (если есть), затем каждую запись.
	// Канал закрывается, когда ctx завершён.
	Watch(ctx context.Context, room, category, key string) (<-chan Payload, error)

	Rooms(ctx context.Context) ([]string, error)
}
