package events

import (
	"fmt"

	"github.com/qrave1/RoomCall/internal/domain"
)

// Kind - тип события переговоров
type Kind string

const (
	KindOfferReceived     Kind = "offer_received"
	KindAnswerReceived    Kind = "answer_received"
	KindCandidateReceived Kind = "candidate_received"
	KindRoomTerminated    Kind = "room_terminated"

	// KindSendAnswer - производное указание транспорту гостя создать answer
	KindSendAnswer Kind = "send_answer"
)

// NegotiationEvent - общее событие переговоров. Заполнено только поле,
// соответствующее Kind.
type NegotiationEvent struct {
	Kind   Kind
	RoomID string
	Role   domain.Role

	Description *domain.SessionDescription
	Candidate   *domain.NetworkCandidate
}

func OfferReceived(roomID string, role domain.Role, desc domain.SessionDescription) NegotiationEvent {
	return NegotiationEvent{Kind: KindOfferReceived, RoomID: roomID, Role: role, Description: &desc}
}

func AnswerReceived(roomID string, role domain.Role, desc domain.SessionDescription) NegotiationEvent {
	return NegotiationEvent{Kind: KindAnswerReceived, RoomID: roomID, Role: role, Description: &desc}
}

func CandidateReceived(roomID string, role domain.Role, cand domain.NetworkCandidate) NegotiationEvent {
	return NegotiationEvent{Kind: KindCandidateReceived, RoomID: roomID, Role: role, Candidate: &cand}
}

func RoomTerminated(roomID string, role domain.Role) NegotiationEvent {
	return NegotiationEvent{Kind: KindRoomTerminated, RoomID: roomID, Role: role}
}

func SendAnswer(roomID string, role domain.Role) NegotiationEvent {
	return NegotiationEvent{Kind: KindSendAnswer, RoomID: roomID, Role: role}
}

func (e NegotiationEvent) String() string {
	switch e.Kind {
	case KindOfferReceived, KindAnswerReceived:
		return fmt.Sprintf("%s(room=%s, sdp=%d bytes)", e.Kind, e.RoomID, len(e.Description.SDP))
	case KindCandidateReceived:
		return fmt.Sprintf("%s(room=%s, mid=%s, mline=%d)", e.Kind, e.RoomID, e.Candidate.Mid, e.Candidate.MLineIndex)
	default:
		return fmt.Sprintf("%s(room=%s)", e.Kind, e.RoomID)
	}
}
