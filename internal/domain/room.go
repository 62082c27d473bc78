package domain

// RoomStatus - жизненный цикл комнаты, как его видит канал сигнализации
type RoomStatus string

const (
	RoomStatusNew        RoomStatus = "NEW"
	RoomStatusActive     RoomStatus = "ACTIVE"
	RoomStatusTerminated RoomStatus = "TERMINATED"
)

// Категории документов в канале сигнализации
const (
	CategorySDP        = "sdp"
	CategoryCandidates = "candidates"
	CategoryMeta       = "meta"
)

// Ключи документов внутри категории
const (
	KeyOffer  = "OFFER"
	KeyAnswer = "ANSWER"
	KeyStatus = "status"
)

// EndCallMarker - значение поля type в meta/status у завершённой комнаты
const EndCallMarker = "END_CALL"

// ValidDocument проверяет, что пара category/key допустима для канала
func ValidDocument(category, key string) bool {
	switch category {
	case CategorySDP, CategoryCandidates:
		return key == KeyOffer || key == KeyAnswer
	case CategoryMeta:
		return key == KeyStatus
	default:
		return false
	}
}
