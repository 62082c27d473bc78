package constant

// Ключи атрибутов slog
const (
	Error     = "error"
	RoomID    = "room_id"
	Role      = "role"
	State     = "state"
	Category  = "category"
	Key       = "key"
	Event     = "event"
	PeerID    = "peer_id"
	SessionID = "session_id"
	Step      = "step"
	Kind      = "kind"
	Addr      = "addr"
)
