// Package codec переводит документы канала сигнализации в доменные типы и обратно.
package codec

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/qrave1/RoomCall/internal/domain"
)

// Поля документов на проводе
const (
	FieldType          = "type"
	FieldSDPBody       = "sdpBody"
	FieldMid           = "mid"
	FieldMLineIndex    = "mLineIndex"
	FieldCandidateBody = "candidateBody"
)

func EncodeDescription(desc domain.SessionDescription) domain.Payload {
	return domain.Payload{
		FieldType:    string(desc.Kind),
		FieldSDPBody: desc.SDP,
	}
}

// DecodeDescription разбирает SDP документ, ожидая тип expected.
// Поле type необязательно, но если есть - должно совпадать с expected.
func DecodeDescription(p domain.Payload, expected domain.DescriptionKind) (domain.SessionDescription, error) {
	if p == nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: empty description", domain.ErrMalformedPayload)
	}

	if err := checkType(p, string(expected)); err != nil {
		return domain.SessionDescription{}, err
	}

	body, err := requiredString(p, FieldSDPBody)
	if err != nil {
		return domain.SessionDescription{}, err
	}

	return domain.SessionDescription{Kind: expected, SDP: body}, nil
}

func EncodeCandidate(cand domain.NetworkCandidate) domain.Payload {
	return domain.Payload{
		FieldType:          cand.Owner.SideKey(),
		FieldMid:           cand.Mid,
		FieldMLineIndex:    cand.MLineIndex,
		FieldCandidateBody: cand.Candidate,
	}
}

// DecodeCandidate разбирает документ кандидата стороны owner
func DecodeCandidate(p domain.Payload, owner domain.Role) (domain.NetworkCandidate, error) {
	if p == nil {
		return domain.NetworkCandidate{}, fmt.Errorf("%w: empty candidate", domain.ErrMalformedPayload)
	}

	if err := checkType(p, owner.SideKey()); err != nil {
		return domain.NetworkCandidate{}, err
	}

	body, err := requiredString(p, FieldCandidateBody)
	if err != nil {
		return domain.NetworkCandidate{}, err
	}

	raw, ok := p[FieldMLineIndex]
	if !ok {
		return domain.NetworkCandidate{}, fmt.Errorf("%w: missing %s", domain.ErrMalformedPayload, FieldMLineIndex)
	}

	index, err := toIndex(raw)
	if err != nil {
		return domain.NetworkCandidate{}, err
	}

	var mid string
	if v, ok := p[FieldMid]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return domain.NetworkCandidate{}, fmt.Errorf("%w: %s is %T, want string", domain.ErrMalformedPayload, FieldMid, v)
		}
		mid = s
	}

	return domain.NetworkCandidate{
		Owner:      owner,
		Mid:        mid,
		MLineIndex: index,
		Candidate:  body,
	}, nil
}

func EncodeRoomStatus(status domain.RoomStatus) domain.Payload {
	if status == domain.RoomStatusTerminated {
		return domain.Payload{FieldType: domain.EndCallMarker}
	}
	return domain.Payload{FieldType: string(status)}
}

// DecodeRoomStatus: END_CALL - комната завершена, всё остальное (в том числе
// отсутствие документа) - новая комната.
func DecodeRoomStatus(p domain.Payload) domain.RoomStatus {
	if t, ok := p[FieldType].(string); ok && t == domain.EndCallMarker {
		return domain.RoomStatusTerminated
	}
	return domain.RoomStatusNew
}

func checkType(p domain.Payload, want string) error {
	v, ok := p[FieldType]
	if !ok || v == nil {
		return nil
	}

	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("%w: %s is %T, want string", domain.ErrMalformedPayload, FieldType, v)
	}

	if s != want {
		return fmt.Errorf("%w: type %q, want %q", domain.ErrMalformedPayload, s, want)
	}

	return nil
}

func requiredString(p domain.Payload, field string) (string, error) {
	v, ok := p[field]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing %s", domain.ErrMalformedPayload, field)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", domain.ErrMalformedPayload, field, v)
	}

	if s == "" {
		return "", fmt.Errorf("%w: empty %s", domain.ErrMalformedPayload, field)
	}

	return s, nil
}

// toIndex принимает целые числа в любом представлении, которое может прийти
// из памяти, JSON или JSONB.
func toIndex(v any) (int, error) {
	var n int64

	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || x > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %s %v is not integral", domain.ErrMalformedPayload, FieldMLineIndex, x)
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s %q: %v", domain.ErrMalformedPayload, FieldMLineIndex, x, err)
		}
		n = i
	default:
		return 0, fmt.Errorf("%w: %s is %T, want integer", domain.ErrMalformedPayload, FieldMLineIndex, v)
	}

	if n < 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %s %d out of range", domain.ErrMalformedPayload, FieldMLineIndex, n)
	}

	return int(n), nil
}
