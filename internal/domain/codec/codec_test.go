package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/qrave1/RoomCall/internal/domain"
)

func TestDescriptionRoundTrip(t *testing.T) {
	for _, desc := range []domain.SessionDescription{
		{Kind: domain.DescriptionOffer, SDP: "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"},
		{Kind: domain.DescriptionAnswer, SDP: "v=0...ans"},
	} {
		got, err := DecodeDescription(EncodeDescription(desc), desc.Kind)
		if err != nil {
			t.Fatalf("DecodeDescription(%v): %v", desc.Kind, err)
		}
		if got != desc {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, desc)
		}
	}
}

func TestCandidateRoundTrip(t *testing.T) {
	for _, cand := range []domain.NetworkCandidate{
		{Owner: domain.RoleHost, Mid: "0", MLineIndex: 0, Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"},
		{Owner: domain.RoleGuest, Mid: "audio", MLineIndex: 3, Candidate: "candidate:2 1 udp 1694498815 1.2.3.4 6000 typ srflx"},
		{Owner: domain.RoleGuest, Mid: "", MLineIndex: 1, Candidate: "candidate:3"},
	} {
		got, err := DecodeCandidate(EncodeCandidate(cand), cand.Owner)
		if err != nil {
			t.Fatalf("DecodeCandidate: %v", err)
		}
		if got != cand {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, cand)
		}
	}
}

// Документы, прошедшие через JSON, приходят с float64 и json.Number вместо int.
func TestCandidateRoundTripThroughJSON(t *testing.T) {
	cand := domain.NetworkCandidate{Owner: domain.RoleHost, Mid: "0", MLineIndex: 2, Candidate: "candidate:x"}

	data, err := json.Marshal(EncodeCandidate(cand))
	if err != nil {
		t.Fatal(err)
	}

	var p domain.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}

	got, err := DecodeCandidate(p, domain.RoleHost)
	if err != nil {
		t.Fatalf("DecodeCandidate: %v", err)
	}
	if got != cand {
		t.Fatalf("got %+v, want %+v", got, cand)
	}

	got, err = DecodeCandidate(domain.Payload{FieldMLineIndex: json.Number("2"), FieldCandidateBody: "candidate:x", FieldMid: "0"}, domain.RoleHost)
	if err != nil {
		t.Fatalf("DecodeCandidate(json.Number): %v", err)
	}
	if got != cand {
		t.Fatalf("got %+v, want %+v", got, cand)
	}
}

func TestDecodeDescriptionWithoutType(t *testing.T) {
	got, err := DecodeDescription(domain.Payload{FieldSDPBody: "v=0..."}, domain.DescriptionOffer)
	if err != nil {
		t.Fatalf("DecodeDescription: %v", err)
	}
	if got.Kind != domain.DescriptionOffer || got.SDP != "v=0..." {
		t.Fatalf("unexpected description %+v", got)
	}
}

func TestDecodeDescriptionMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload domain.Payload
		kind    domain.DescriptionKind
	}{
		{"nil", nil, domain.DescriptionOffer},
		{"missing sdpBody", domain.Payload{FieldType: "OFFER"}, domain.DescriptionOffer},
		{"empty sdpBody", domain.Payload{FieldSDPBody: ""}, domain.DescriptionOffer},
		{"sdpBody not a string", domain.Payload{FieldSDPBody: 42}, domain.DescriptionAnswer},
		{"wrong kind", domain.Payload{FieldType: "OFFER", FieldSDPBody: "v=0"}, domain.DescriptionAnswer},
		{"type not a string", domain.Payload{FieldType: true, FieldSDPBody: "v=0"}, domain.DescriptionOffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDescription(tt.payload, tt.kind)
			if !errors.Is(err, domain.ErrMalformedPayload) {
				t.Fatalf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestDecodeCandidateMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload domain.Payload
	}{
		{"nil", nil},
		{"mLineIndex not a number", domain.Payload{FieldMLineIndex: "not-a-number"}},
		{"mLineIndex string with body", domain.Payload{FieldMLineIndex: "1", FieldCandidateBody: "candidate:1"}},
		{"missing mLineIndex", domain.Payload{FieldCandidateBody: "candidate:1"}},
		{"fractional mLineIndex", domain.Payload{FieldMLineIndex: 1.5, FieldCandidateBody: "candidate:1"}},
		{"negative mLineIndex", domain.Payload{FieldMLineIndex: -1, FieldCandidateBody: "candidate:1"}},
		{"missing candidateBody", domain.Payload{FieldMLineIndex: 0}},
		{"mid not a string", domain.Payload{FieldMLineIndex: 0, FieldCandidateBody: "candidate:1", FieldMid: 7}},
		{"wrong side", domain.Payload{FieldType: "ANSWER", FieldMLineIndex: 0, FieldCandidateBody: "candidate:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCandidate(tt.payload, domain.RoleHost)
			if !errors.Is(err, domain.ErrMalformedPayload) {
				t.Fatalf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestRoomStatus(t *testing.T) {
	if got := DecodeRoomStatus(EncodeRoomStatus(domain.RoomStatusTerminated)); got != domain.RoomStatusTerminated {
		t.Fatalf("terminated round trip: got %s", got)
	}
	if got := DecodeRoomStatus(nil); got != domain.RoomStatusNew {
		t.Fatalf("absent status: got %s", got)
	}
	if got := DecodeRoomStatus(domain.Payload{FieldType: "SOMETHING"}); got != domain.RoomStatusNew {
		t.Fatalf("other status: got %s", got)
	}
}
